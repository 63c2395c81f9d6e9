package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/ecoplan/internal/domain"
	"github.com/ashureev/ecoplan/internal/metrics"
	"github.com/ashureev/ecoplan/internal/questionflow"
	"github.com/ashureev/ecoplan/internal/survey"
)

// AnswerRequest is one submitted answer. Feedback is only read with a
// blueprint rejection.
type AnswerRequest struct {
	SessionID  string       `json:"sessionId"`
	QuestionID string       `json:"questionId"`
	Answer     domain.Value `json:"answer"`
	Feedback   string       `json:"feedback,omitempty"`
}

// Answer applies an answer. While collecting it returns the next question,
// or the generating view once every applicable question is answered. A
// halted session resumes collecting. A blueprint awaiting confirmation
// takes a ConfirmationQuestionID answer.
func (o *Orchestrator) Answer(ctx context.Context, req AnswerRequest) (*StatusView, error) {
	if strings.TrimSpace(req.QuestionID) == "" {
		return nil, &questionflow.ValidationError{Fields: map[string]string{"questionId": "is required"}}
	}

	unlock := o.locks.Lock(req.SessionID)
	defer unlock()

	s, err := o.repo.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	switch s.Status {
	case domain.StatusCollecting, domain.StatusHalted:
		// s is a private copy; a rejected answer leaves a halted session halted.
		return o.answerCollecting(ctx, s, req)
	case domain.StatusAwaitingBlueprintConfirmation:
		return o.confirm(ctx, s, req)
	default:
		return nil, notAllowed(s, "answer questions")
	}
}

// resume returns a halted session to collecting in memory. The cursor
// already presents the earliest question to revisit.
func resume(s *domain.DesignSession) {
	s.Status = domain.StatusCollecting
	s.OpenQuestions = nil
	s.DesignContext = nil
	s.Generation = domain.GenerationNotStarted
}

func (o *Orchestrator) answerCollecting(ctx context.Context, s *domain.DesignSession, req AnswerRequest) (*StatusView, error) {
	questions, err := o.questions(s)
	if err != nil {
		return nil, err
	}

	idx := questionflow.IndexOf(questions, req.QuestionID)
	if idx < 0 {
		_, err := questionflow.Apply(questions, req.QuestionID, req.Answer, s.Inputs)
		return nil, err
	}
	pending := questionflow.Pending(s.CurrentQuestionIndex)
	if _, answered := s.Inputs[req.QuestionID]; idx > pending && !answered {
		return nil, questionflow.Invalid(req.QuestionID, "questionId", "this question has not been asked yet")
	}
	q := &questions[idx]
	if !q.Applies(s.Inputs) {
		return nil, questionflow.Invalid(req.QuestionID, "questionId", "this question does not apply to the earlier answers")
	}

	var (
		inputs  domain.Inputs
		message string
	)
	if q.Kind == domain.KindFileUpload {
		inputs, message, err = o.applyUpload(ctx, s, q, req.Answer)
	} else {
		inputs, err = questionflow.Apply(questions, q.ID, req.Answer, s.Inputs)
	}
	if err != nil {
		return nil, err
	}
	// The cursor only moves forward while collecting, so an earlier answer
	// may not reopen or close questions that were already passed.
	if changed := questionflow.BranchChanges(questions, idx, pending, s.Inputs, inputs); len(changed) > 0 {
		return nil, questionflow.Invalid(q.ID, "answer", fmt.Sprintf(
			"this answer would change which earlier questions apply (%s); start a new design to take that path",
			strings.Join(changed, ", ")))
	}

	from := s.Status
	if from == domain.StatusHalted {
		resume(s)
	}
	s.Inputs = inputs
	// Re-answering an earlier question presents the pending one again, so
	// the cursor never moves twice for one question.
	next, cursor := questionflow.NextQuestion(questions, max(pending, idx+1), inputs)
	s.CurrentQuestionIndex = cursor

	if next != nil {
		if err := o.save(ctx, from, s); err != nil {
			return nil, err
		}
		return &StatusView{
			SessionID:            s.SessionID,
			Status:               s.Status,
			ProjectType:          s.ProjectType,
			Generation:           s.Generation,
			Message:              message,
			CurrentQuestionIndex: &cursor,
			NextQuestion:         next,
		}, nil
	}

	if from == domain.StatusHalted {
		// The resume and the last answer land in one write.
		o.transitioned(s, from, domain.StatusCollecting)
		from = domain.StatusCollecting
	}
	o.beginAttempt(s, domain.PhaseBlueprint)
	o.enqueue(s)
	if err := o.save(ctx, from, s); err != nil {
		return nil, err
	}
	v, err := o.view(ctx, s)
	if err != nil {
		return nil, err
	}
	v.Message = joinMessages(message, "Thanks, that's everything we need. Generating your blueprint now.")
	return v, nil
}

// applyUpload hands a survey document to the extractor. Success fills in the
// plot inputs the manual questions would have collected; failure records it
// so the manual questions apply. Either way the session keeps going.
func (o *Orchestrator) applyUpload(ctx context.Context, s *domain.DesignSession, q *domain.Question, answer domain.Value) (domain.Inputs, string, error) {
	doc, err := survey.ParseDocument(answer)
	if err != nil {
		return nil, "", questionflow.Invalid(q.ID, "answer", err.Error())
	}
	if !survey.Accepts(q.Accept, doc) {
		return nil, "", questionflow.Invalid(q.ID, "answer", fmt.Sprintf("file type %q is not accepted", doc.MIMEType))
	}

	out := s.Inputs.Clone()
	// The document itself is not kept.
	out[q.ID] = domain.Fields(map[string]string{
		"name":     doc.Name,
		"mimeType": doc.MIMEType,
		"size":     strconv.Itoa(len(doc.Data)),
	})

	ectx, cancel := context.WithTimeout(ctx, o.extractTimeout)
	defer cancel()
	dims, err := o.extractor.Extract(ectx, doc)
	if err == nil {
		err = dims.Validate()
	}
	if err != nil {
		metrics.SurveyExtractions.WithLabelValues(questionflow.SurveyFailed).Inc()
		o.logger.Warn("Survey extraction failed, falling back to manual entry",
			"session_id", s.SessionID, "error", err)
		out[questionflow.KeySurveyStatus] = domain.Text(questionflow.SurveyFailed)
		return out, "We couldn't read the plot dimensions from that document. Please enter them manually.", nil
	}

	metrics.SurveyExtractions.WithLabelValues(questionflow.SurveyExtracted).Inc()
	unit := dims.Unit
	if unit == "" {
		unit = "feet"
	}
	out[questionflow.KeyPlotDimensions] = domain.Fields(map[string]string{
		"width": formatFeet(dims.Width),
		"depth": formatFeet(dims.Depth),
		"unit":  unit,
	})
	out[questionflow.KeyRoadSide] = domain.Text(dims.RoadSide)
	out[questionflow.KeySurveyStatus] = domain.Text(questionflow.SurveyExtracted)
	o.logger.Info("Survey dimensions extracted",
		"session_id", s.SessionID, "width", dims.Width, "depth", dims.Depth, "road_side", dims.RoadSide, "confidence", dims.Confidence)

	return out, fmt.Sprintf("Extracted plot %s x %s ft, road on the %s side.",
		formatFeet(dims.Width), formatFeet(dims.Depth), dims.RoadSide), nil
}

// confirm handles the blueprint gate. Confirming starts the isometric phase;
// rejecting rewinds to the first question marked for revisit and keeps the
// plot and identity answers.
func (o *Orchestrator) confirm(ctx context.Context, s *domain.DesignSession, req AnswerRequest) (*StatusView, error) {
	if req.QuestionID != ConfirmationQuestionID {
		return nil, questionflow.Invalid(req.QuestionID, "questionId",
			fmt.Sprintf("the blueprint is awaiting confirmation; answer %q", ConfirmationQuestionID))
	}
	choice := ""
	if req.Answer.Kind == domain.ValueText {
		choice = strings.TrimSpace(req.Answer.Text)
	}
	from := s.Status

	switch choice {
	case ConfirmBlueprint:
		o.beginAttempt(s, domain.PhaseIsometric)
		o.enqueue(s)
		if err := o.save(ctx, from, s); err != nil {
			return nil, err
		}
		v, err := o.view(ctx, s)
		if err != nil {
			return nil, err
		}
		v.Message = "Blueprint confirmed. Creating the isometric, exterior and interior views."
		return v, nil

	case RejectBlueprint:
		questions, err := o.questions(s)
		if err != nil {
			return nil, err
		}
		s.Status = domain.StatusCollecting
		s.DesignContext = nil
		s.BlueprintImage = nil
		s.Summary = nil
		s.Generation = domain.GenerationNotStarted
		s.Phase = ""
		if fb := strings.TrimSpace(req.Feedback); fb != "" {
			s.Inputs[questionflow.KeyFeedback] = domain.Text(fb)
		}
		_, s.CurrentQuestionIndex = questionflow.NextQuestion(questions, questionflow.RevisitIndex(questions), s.Inputs)
		if err := o.save(ctx, from, s); err != nil {
			return nil, err
		}
		v, err := o.view(ctx, s)
		if err != nil {
			return nil, err
		}
		v.Inputs = nil
		v.Message = "No problem. Let's adjust the design."
		return v, nil
	}
	return nil, questionflow.Invalid(ConfirmationQuestionID, "answer",
		fmt.Sprintf("expected %q or %q", ConfirmBlueprint, RejectBlueprint))
}

func formatFeet(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func joinMessages(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
