package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"publishwed/pkg/feed"
	"publishwed/pkg/guard"
	"publishwed/pkg/models"
)

func cmdLogin(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("login")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	user, err := a.session.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "logged in as %s (#%d)\n", user.UserName, user.ID)
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("register")
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "account email")
	password := fs.String("password", "", "account password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	user, err := a.session.Register(ctx, *name, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "registered %s (#%d), now run feedctl login\n", user.UserName, user.ID)
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "logged out")
	return nil
}

func cmdWhoami(ctx context.Context, a *app, _ []string) error {
	user, err := guard.Require(ctx, a.session)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s <%s> (#%d)\n", user.UserName, user.Email, user.ID)
	return nil
}

func cmdFeed(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("feed")
	asJSON := fs.Bool("json", false, "print the feed as JSON")
	expand := fs.Bool("comments", false, "load and show comments for every message")
	if err := fs.Parse(args); err != nil {
		return err
	}
	msgs, err := a.feed.LoadMessages(ctx)
	if err != nil {
		return err
	}
	if *expand {
		for _, m := range msgs {
			if _, err := a.feed.ToggleComments(ctx, m.ID); err != nil {
				return fmt.Errorf("comments of #%d: %w", m.ID, err)
			}
		}
	}
	view := a.feed.View()
	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	if len(view.Messages) == 0 {
		fmt.Fprintln(a.out, "no messages yet")
		return nil
	}
	for _, m := range view.Messages {
		printMessage(a, m)
		for _, c := range m.Comments {
			printComment(a, "    ", c)
		}
	}
	return nil
}

func cmdPost(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("post")
	text := fs.String("text", "", "message text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *text == "" && fs.NArg() > 0 {
		*text = strings.Join(fs.Args(), " ")
	}
	msg, err := a.feed.CreateMessage(ctx, *text)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "posted #%d\n", msg.ID)
	return nil
}

func cmdEdit(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("edit")
	id := fs.Int64("id", 0, "message id")
	text := fs.String("text", "", "new text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("id required")
	}
	msg, err := a.feed.UpdateMessage(ctx, *id, *text)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "updated #%d\n", msg.ID)
	return nil
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("delete")
	id := fs.Int64("id", 0, "message id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id <= 0 {
		return errors.New("id required")
	}
	if err := a.feed.DeleteMessage(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted #%d\n", *id)
	return nil
}

func cmdComments(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("comments")
	messageID := fs.Int64("message", 0, "message id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *messageID <= 0 {
		return errors.New("message required")
	}
	list, err := a.feed.LoadComments(ctx, *messageID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "no comments yet")
		return nil
	}
	identity := a.session.Identity()
	for _, c := range list {
		printComment(a, "", feed.CommentView{Comment: c, Author: c.DisplayName(), CanEdit: models.Owns(identity, c)})
	}
	return nil
}

func cmdComment(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("comment")
	messageID := fs.Int64("message", 0, "message id")
	text := fs.String("text", "", "comment text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *messageID <= 0 {
		return errors.New("message required")
	}
	c, err := a.feed.CreateComment(ctx, *messageID, *text)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "commented #%d on #%d\n", c.ID, c.MessageID)
	return nil
}

func cmdEditComment(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("edit-comment")
	messageID := fs.Int64("message", 0, "message id")
	id := fs.Int64("id", 0, "comment id")
	text := fs.String("text", "", "new text")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *messageID <= 0 || *id <= 0 {
		return errors.New("message and id required")
	}
	c, err := a.feed.UpdateComment(ctx, *messageID, *id, *text)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "updated comment #%d\n", c.ID)
	return nil
}

func cmdDeleteComment(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("delete-comment")
	messageID := fs.Int64("message", 0, "message id")
	id := fs.Int64("id", 0, "comment id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *messageID <= 0 || *id <= 0 {
		return errors.New("message and id required")
	}
	if err := a.feed.DeleteComment(ctx, *messageID, *id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted comment #%d\n", *id)
	return nil
}

// cmdStats resolves the session once and reports what it cost.
func cmdStats(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("stats")
	asJSON := fs.Bool("json", false, "print the snapshot as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.session.Init(ctx); err != nil {
		a.logger.Debug("session init failed", "error", err)
	}
	snap := a.session.Snapshot()
	if *asJSON {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Session string      `json:"session"`
			Metrics interface{} `json:"metrics"`
		}{Session: snap.State, Metrics: a.metrics.Snapshot()})
	}
	fmt.Fprintf(a.out, "session: %s\n", snap.State)
	fmt.Fprint(a.out, a.metrics.Summary())
	return nil
}

func printMessage(a *app, m feed.MessageView) {
	mark := ""
	if m.CanEdit {
		mark = " *"
	}
	fmt.Fprintf(a.out, "#%d %s: %s%s\n", m.ID, m.Author, m.UserMessage, mark)
}

func printComment(a *app, indent string, c feed.CommentView) {
	mark := ""
	if c.CanEdit {
		mark = " *"
	}
	fmt.Fprintf(a.out, "%s#%d %s: %s%s\n", indent, c.ID, c.Author, c.Comment.Comment, mark)
}
