package postgres

import (
	"database/sql"

	"autoreq-backend/internal/repository"

	_ "github.com/lib/pq"
)

type Store struct {
	db *sql.DB
	repository.ChatRepository
	repository.RequestRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:                db,
		ChatRepository:    NewChatRepository(db),
		RequestRepository: NewRequestRepository(db),
	}
}
