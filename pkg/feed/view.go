package feed

import "publishwed/pkg/models"

type CommentView struct {
	models.Comment
	Author  string
	CanEdit bool
}

type MessageView struct {
	models.Message
	Author         string
	CanEdit        bool
	Expanded       bool
	CommentsLoaded bool
	Comments       []CommentView
}

type View struct {
	Identity *models.User
	Messages []MessageView
}

// View builds the render model. Edit affordances are derived from the
// identity at call time and are advisory; the server decides.
func (s *Synchronizer) View() View {
	var identity *models.User
	if s.identity != nil {
		identity = s.identity.Identity()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := View{Identity: identity, Messages: make([]MessageView, 0, len(s.order))}
	for _, id := range s.order {
		m := s.messages[id]
		mv := MessageView{
			Message:  m,
			Author:   m.DisplayName(),
			CanEdit:  models.Owns(identity, m),
			Expanded: s.expanded[id],
		}
		if list, ok := s.comments[id]; ok {
			mv.CommentsLoaded = true
			mv.Comments = make([]CommentView, 0, len(list))
			for _, c := range list {
				mv.Comments = append(mv.Comments, CommentView{
					Comment: c,
					Author:  c.DisplayName(),
					CanEdit: models.Owns(identity, c),
				})
			}
		}
		out.Messages = append(out.Messages, mv)
	}
	return out
}
