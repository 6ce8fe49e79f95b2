package post

import (
	dompost "github.com/kailas-cloud/postmap/internal/domain/post"
	"github.com/kailas-cloud/postmap/internal/repository/schema"
)

func toModel(p *dompost.Post) schema.PostModel {
	s := p.Snapshot()
	return schema.PostModel{
		ID:           s.ID,
		AuthorID:     s.AuthorID,
		ActivityType: s.ActivityType,
		Status:       string(s.Status),
		Comment:      s.Comment,
		Title:        s.Title,
		Description:  s.Description,
		Embedding:    s.Embedding,
		X:            s.X,
		Y:            s.Y,
		CreatedAt:    s.CreatedAt,
	}
}

func toDomain(m schema.PostModel) dompost.Post {
	return dompost.Reconstruct(dompost.Snapshot{
		ID:           m.ID,
		AuthorID:     m.AuthorID,
		ActivityType: m.ActivityType,
		Status:       dompost.Status(m.Status),
		Comment:      m.Comment,
		Title:        m.Title,
		Description:  m.Description,
		Embedding:    m.Embedding,
		X:            m.X,
		Y:            m.Y,
		CreatedAt:    m.CreatedAt,
	})
}

func toDomainSlice(models []schema.PostModel) []dompost.Post {
	out := make([]dompost.Post, len(models))
	for i, m := range models {
		out[i] = toDomain(m)
	}
	return out
}
