package service

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/webitel/im-chat-delivery/internal/domain/model"
	"github.com/webitel/im-chat-delivery/internal/store"
)

// Directory resolves users and conversations through a read-through LRU in front of the
// store. Usernames and conversation members never change, so entries are never invalidated.
type Directory struct {
	repo  store.Repository
	users *lru.Cache[int64, model.User]
	chats *lru.Cache[int64, model.Conversation]
}

func NewDirectory(repo store.Repository, size int) (*Directory, error) {
	if size <= 0 {
		size = 4096
	}

	// [MEMORY_MANAGEMENT] Hot identities stay in memory, everything else is one query away.
	users, err := lru.New[int64, model.User](size)
	if err != nil {
		return nil, fmt.Errorf("user directory: %w", err)
	}
	chats, err := lru.New[int64, model.Conversation](size)
	if err != nil {
		return nil, fmt.Errorf("chat directory: %w", err)
	}

	return &Directory{repo: repo, users: users, chats: chats}, nil
}

func (d *Directory) User(ctx context.Context, userID int64) (model.User, error) {
	if u, ok := d.users.Get(userID); ok {
		return u, nil
	}

	u, err := d.repo.GetUser(ctx, userID)
	if err != nil {
		return model.User{}, err
	}
	d.users.Add(userID, u)
	return u, nil
}

func (d *Directory) Chat(ctx context.Context, chatID int64) (model.Conversation, error) {
	if c, ok := d.chats.Get(chatID); ok {
		return c, nil
	}

	c, err := d.repo.GetChat(ctx, chatID)
	if err != nil {
		return model.Conversation{}, err
	}
	d.chats.Add(chatID, c)
	return c, nil
}

func (d *Directory) RememberUser(u model.User)         { d.users.Add(u.ID, u) }
func (d *Directory) RememberChat(c model.Conversation) { d.chats.Add(c.ID, c) }
