package storage

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidShard = errors.New("invalid shard key")

var shardKeyPattern = regexp.MustCompile(`^[a-z]{2,8}$`)

// ValidateShardKey checks that lang can name a partition. Shard keys end up
// in DDL, so only short lowercase codes are accepted.
func ValidateShardKey(lang string) error {
	if !shardKeyPattern.MatchString(lang) {
		return fmt.Errorf("%w: %q", ErrInvalidShard, lang)
	}
	return nil
}

type Point struct {
	ID        uuid.UUID `json:"id"`
	Language  string    `json:"language"`
	Stars     int16     `json:"stars"`
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	Dim       int       `json:"dim"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

func NewPoint(language string, stars int, text string, embedding []float32) *Point {
	return &Point{
		ID:        uuid.New(),
		Language:  language,
		Stars:     int16(stars),
		Text:      text,
		Dim:       len(embedding),
		Embedding: embedding,
		CreatedAt: time.Now(),
	}
}

type SearchQuery struct {
	Shard  string
	Vector []float32
	// Stars restricts hits to any of the listed ratings; empty means all.
	Stars []int
	Limit int
}

type SearchHit struct {
	ID       string  `json:"id"`
	Language string  `json:"language"`
	Stars    int     `json:"stars"`
	Text     string  `json:"text"`
	Score    float64 `json:"score"`
}
