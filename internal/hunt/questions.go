package hunt

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// QuestionInput 是新建题目的请求。
type QuestionInput struct {
	Points int      `json:"question_points"`
	Text   string   `json:"question_text"`
	Hints  []string `json:"question_hints"`
	Answer string   `json:"answer"`
}

// QuestionPatch 是编辑题目的请求，nil 表示不修改。
type QuestionPatch struct {
	Points *int      `json:"question_points"`
	Text   *string   `json:"question_text"`
	Hints  *[]string `json:"question_hints"`
	Answer *string   `json:"answer"`
}

func questionID(event string, number int) string {
	return fmt.Sprintf("%s:%d", event, number)
}

// NextQuestionNumber 返回下一道题目的编号，没有题目时为 0。
func (r *Repository) NextQuestionNumber(ctx context.Context, event string) (int, error) {
	var last sql.NullInt64
	err := r.db.NewSelect().
		Model((*Question)(nil)).
		ColumnExpr("MAX(question_number)").
		Where("event = ?", event).
		Scan(ctx, &last)
	if err != nil {
		return 0, err
	}
	if !last.Valid {
		return 0, nil
	}
	return int(last.Int64) + 1, nil
}

// AddQuestion 以下一个编号写入题目。
func (r *Repository) AddQuestion(ctx context.Context, event string, in QuestionInput) (*Question, error) {
	if _, err := r.GetEvent(ctx, event); err != nil {
		return nil, invalidf("Invalid event value")
	}
	text := strings.TrimSpace(in.Text)
	answer := strings.TrimSpace(in.Answer)
	if text == "" || answer == "" {
		return nil, invalidf("Invalid Input")
	}
	if in.Points < 1 {
		return nil, invalidf("Invalid question number/points")
	}

	var question *Question
	err := withRetry(ctx, func() error {
		number, err := r.NextQuestionNumber(ctx, event)
		if err != nil {
			return err
		}
		question = &Question{
			ID:     questionID(event, number),
			Number: number,
			Points: in.Points,
			Event:  event,
			Text:   text,
			Hints:  in.Hints,
			Answer: answer,
		}
		_, err = r.db.NewInsert().Model(question).Exec(ctx)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflictf("Question already exists")
		}
		return nil, fmt.Errorf("insert question: %w", err)
	}
	return question, nil
}

// EditQuestion 修改已有题目。
func (r *Repository) EditQuestion(ctx context.Context, event string, number int, patch QuestionPatch) (*Question, error) {
	question, err := r.GetQuestion(ctx, event, number)
	if err != nil {
		return nil, err
	}
	if patch.Points != nil {
		if *patch.Points < 1 {
			return nil, invalidf("Invalid question number/points")
		}
		question.Points = *patch.Points
	}
	if patch.Text != nil {
		question.Text = strings.TrimSpace(*patch.Text)
	}
	if patch.Hints != nil {
		question.Hints = *patch.Hints
	}
	if patch.Answer != nil {
		if answer := strings.TrimSpace(*patch.Answer); answer != "" {
			question.Answer = answer
		}
	}

	err = withRetry(ctx, func() error {
		_, err := r.db.NewUpdate().
			Model(question).
			Column("question_points", "question_text", "question_hints", "answer").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update question: %w", err)
	}
	return question, nil
}

// GetQuestion 返回指定编号的题目。
func (r *Repository) GetQuestion(ctx context.Context, event string, number int) (*Question, error) {
	question := new(Question)
	err := r.db.NewSelect().Model(question).Where("id = ?", questionID(event, number)).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFoundf("Question not found")
		}
		return nil, err
	}
	return question, nil
}

// ListQuestions 返回赛事的全部题目，按编号排序。
func (r *Repository) ListQuestions(ctx context.Context, event string) ([]Question, error) {
	questions := make([]Question, 0)
	err := r.db.NewSelect().
		Model(&questions).
		Where("event = ?", event).
		Order("question_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return questions, nil
}
