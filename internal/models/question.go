// internal/models/question.go
package models

import "go.mongodb.org/mongo-driver/bson/primitive"

// Question is a single science bowl question as stored in Mongo. Immutable
// once fetched; a room owns the active question for the duration of one
// tossup cycle.
type Question struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"_id,omitempty"`
	QuestionText string             `bson:"question_text" json:"question_text"`
	Answer       string             `bson:"answer" json:"answer"`
	Subject      string             `bson:"subject" json:"subject"`
	Competition  string             `bson:"competition,omitempty" json:"competition,omitempty"`
	Year         int                `bson:"year,omitempty" json:"year,omitempty"`
	IsMcq        bool               `bson:"is_mcq" json:"is_mcq"`
	IsTossup     bool               `bson:"is_tossup" json:"is_tossup"`

	// Options holds the W/X/Y/Z choices for multiple-choice questions.
	Options []string `bson:"options,omitempty" json:"options,omitempty"`

	// SetName and PacketNumber place the question inside a named packet,
	// for packet-mode play. Zero values mean the question is only part of
	// the random pool.
	SetName        string `bson:"set_name,omitempty" json:"set_name,omitempty"`
	PacketNumber   int    `bson:"packet_number,omitempty" json:"packet_number,omitempty"`
	QuestionNumber int    `bson:"question_number,omitempty" json:"question_number,omitempty"`
}

// Filter describes a random-question query. Empty slices select any value
// for that field; nil booleans leave the field unconstrained.
type Filter struct {
	Subjects      []string `json:"subjects"`
	Competitions  []string `json:"competitions"`
	Years         []int    `json:"years"`
	IsMcq         *bool    `json:"isMcq,omitempty"`
	IsTossup      *bool    `json:"isTossup,omitempty"`
	Randomize     bool     `json:"randomize"`
	CaseSensitive bool     `json:"caseSensitive"`

	// MaxReturnLength caps how many questions a single query may return.
	MaxReturnLength int `json:"maxReturnLength"`
}
