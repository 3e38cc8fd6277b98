package domain

import (
	"time"

	"github.com/google/uuid"
)

// ActivityType is one of the gradeable tasks inside a lesson.
type ActivityType string

const (
	ActivityQuiz        ActivityType = "quiz"
	ActivityCodeBuilder ActivityType = "code_builder"
	ActivityCompiler    ActivityType = "compiler"
)

// Activities lists every activity a lesson is made of, in display order.
var Activities = []ActivityType{ActivityQuiz, ActivityCodeBuilder, ActivityCompiler}

// Scored reports whether the activity takes part in automatic scoring.
// Compiler submissions go through a manual review workflow instead.
func (a ActivityType) Scored() bool {
	return a == ActivityQuiz || a == ActivityCodeBuilder
}

// Actor tags who last changed an attempt counter.
type Actor string

const (
	ActorStudent Actor = "student"
	ActorTeacher Actor = "teacher"
)

// ActivityScope identifies one leaderboard: every student's record for a single activity.
type ActivityScope struct {
	ClassID  string       `json:"classId" validate:"required,max=128,excludesall=:/"`
	LessonID string       `json:"lessonId" validate:"required,max=128,excludesall=:/"`
	Activity ActivityType `json:"activityType" validate:"required,oneof=quiz code_builder compiler"`
}

// Topic is the change-notification topic for records in this scope.
func (s ActivityScope) Topic() string {
	return s.ClassID + ":" + s.LessonID + ":" + string(s.Activity)
}

// ActivityKey is the identity of an ActivityRecord.
type ActivityKey struct {
	ActivityScope
	StudentID string `json:"studentId" validate:"required,max=128,excludesall=:/"`
}

// NewActivityKey is a convenience constructor.
func NewActivityKey(classID, lessonID string, activity ActivityType, studentID string) ActivityKey {
	return ActivityKey{
		ActivityScope: ActivityScope{ClassID: classID, LessonID: lessonID, Activity: activity},
		StudentID:     studentID,
	}
}

// ActivityRecord is the single per-student aggregate for one activity. It holds
// both the best score (and the attempt count it was earned with) and the attempt
// quota counter, so the two can only change together.
type ActivityRecord struct {
	Key           ActivityKey `json:"key"`
	StudentName   string      `json:"studentName"`
	Scored        bool        `json:"scored"`
	BestScore     int         `json:"bestScore"`
	ScoreAttempts int         `json:"scoreAttempts"`
	AttemptsUsed  int         `json:"attemptsUsed"`
	LastAttempt   time.Time   `json:"lastAttempt"`
	UpdatedBy     Actor       `json:"updatedBy"`
	TeacherID     string      `json:"teacherId,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// AttemptStatus answers "may this student start the activity?".
type AttemptStatus struct {
	CanAttempt   bool `json:"canAttempt"`
	AttemptsUsed int  `json:"attemptsUsed"`
	MaxAttempts  int  `json:"maxAttempts"`
}

// ScoreSubmission is a finished activity reported by a client.
type ScoreSubmission struct {
	Key          ActivityKey
	StudentName  string `validate:"max=256"`
	Score        int    `validate:"min=0"`
	AttemptsUsed int    `validate:"min=0"`
}

// ScoreOutcome describes what RecordScore did with a submission.
type ScoreOutcome struct {
	BestScore    int  `json:"bestScore"`
	AttemptsUsed int  `json:"attemptsUsed"`
	Changed      bool `json:"changed"`
	Excluded     bool `json:"excluded"`
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	Rank         int    `json:"rank"`
	StudentID    string `json:"studentId"`
	StudentName  string `json:"studentName"`
	Score        int    `json:"score"`
	AttemptsUsed int    `json:"attemptsUsed"`
}

// Leaderboard captures the ordered scoreboard for one activity.
type Leaderboard struct {
	ClassID   string             `json:"classId"`
	LessonID  string             `json:"lessonId"`
	Activity  ActivityType       `json:"activityType"`
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

// LockStatus is the stored, teacher-controlled lock flag of a lesson.
type LockStatus string

const (
	LessonLocked   LockStatus = "locked"
	LessonUnlocked LockStatus = "unlocked"
)

// Valid reports whether s is a storable lock flag.
func (s LockStatus) Valid() bool {
	return s == LessonLocked || s == LessonUnlocked
}

// DisplayStatus is what a client should render for a lesson.
type DisplayStatus string

const (
	DisplayLocked    DisplayStatus = "locked"
	DisplayUnlocked  DisplayStatus = "unlocked"
	DisplayCompleted DisplayStatus = "completed"
)

// ProgressStatus is a student's state for one activity of a lesson.
type ProgressStatus string

const (
	ProgressNotStarted ProgressStatus = "not_started"
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressLocked     ProgressStatus = "locked"
)

// Valid reports whether s is a known progress value.
func (s ProgressStatus) Valid() bool {
	switch s {
	case ProgressNotStarted, ProgressInProgress, ProgressCompleted, ProgressLocked:
		return true
	}
	return false
}

// LessonStatus is the per-student read model of a lesson.
// AccessStatus is authoritative for gating; DisplayStatus is derived for UI.
type LessonStatus struct {
	ClassID           string                          `json:"classId"`
	LessonID          string                          `json:"lessonId"`
	StudentID         string                          `json:"studentId"`
	Status            DisplayStatus                   `json:"status"`
	DisplayStatus     DisplayStatus                   `json:"displayStatus"`
	AccessStatus      LockStatus                      `json:"accessStatus"`
	PerActivityStatus map[ActivityType]ProgressStatus `json:"perActivityStatus"`
	IsCompleted       bool                            `json:"isCompleted"`
}

// EventKind classifies change notifications.
type EventKind string

const (
	EventScore        EventKind = "score"
	EventAttempts     EventKind = "attempts"
	EventLessonStatus EventKind = "lesson_status"
	EventProgress     EventKind = "progress"
)

// ChangeEvent is emitted after every mutation that changed stored state.
type ChangeEvent struct {
	ID        string       `json:"id"`
	Kind      EventKind    `json:"kind"`
	ClassID   string       `json:"classId"`
	LessonID  string       `json:"lessonId"`
	Activity  ActivityType `json:"activityType,omitempty"`
	StudentID string       `json:"studentId,omitempty"`
	At        time.Time    `json:"at"`
}

// NewRecordEvent builds an event for a change to an ActivityRecord.
func NewRecordEvent(kind EventKind, key ActivityKey, at time.Time) ChangeEvent {
	return ChangeEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		ClassID:   key.ClassID,
		LessonID:  key.LessonID,
		Activity:  key.Activity,
		StudentID: key.StudentID,
		At:        at,
	}
}

// NewLessonEvent builds an event for a lesson-level change.
func NewLessonEvent(kind EventKind, classID, lessonID, studentID string, at time.Time) ChangeEvent {
	return ChangeEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		ClassID:   classID,
		LessonID:  lessonID,
		StudentID: studentID,
		At:        at,
	}
}

// Topic routes the event to subscribers.
func (e ChangeEvent) Topic() string {
	if e.Activity == "" {
		return LessonTopic(e.ClassID, e.LessonID)
	}
	return ActivityScope{ClassID: e.ClassID, LessonID: e.LessonID, Activity: e.Activity}.Topic()
}

// LessonTopic is the topic for lesson-level events.
func LessonTopic(classID, lessonID string) string {
	return classID + ":" + lessonID
}
