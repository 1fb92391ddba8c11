package provider

import (
	"context"
	"net/url"
	"strings"
	"time"
)

type ExamConfig struct {
	SubmitURL     string
	StatusURL     string
	CallbackURL   string
	SubmitTimeout time.Duration
	StatusTimeout time.Duration
}

// ExamGateway talks to the learner's licence exam API.
type ExamGateway struct {
	client *Client
	cfg    ExamConfig
}

func NewExamGateway(client *Client, cfg ExamConfig) *ExamGateway {
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = 90 * time.Second
	}
	if cfg.StatusTimeout == 0 {
		cfg.StatusTimeout = 30 * time.Second
	}
	return &ExamGateway{client: client, cfg: cfg}
}

type ExamRequest struct {
	ApplNo   string
	DOB      string
	Password string
	PIN      string
	ExamType string
}

// Normalize applies the upstream API's expected casing and defaults.
func (r ExamRequest) Normalize() ExamRequest {
	r.ApplNo = strings.ToUpper(strings.TrimSpace(r.ApplNo))
	r.DOB = strings.TrimSpace(r.DOB)
	r.Password = strings.ToUpper(strings.TrimSpace(r.Password))
	r.PIN = strings.TrimSpace(r.PIN)
	r.ExamType = strings.ToLower(strings.TrimSpace(r.ExamType))
	if r.ExamType == "" {
		r.ExamType = "day"
	}
	return r
}

type ExamReceipt struct {
	Token     string
	ApplNo    string
	ApplName  string
	DOB       string
	Queue     string
	RTOCode   string
	RTOName   string
	StateCode string
	StateName string
	Message   string
}

func (g *ExamGateway) SubmitExam(ctx context.Context, req ExamRequest) (*ExamReceipt, error) {
	const name = "exam_submit"
	req = req.Normalize()

	form := url.Values{
		"apikey":   {g.client.apiKey},
		"applno":   {req.ApplNo},
		"dob":      {req.DOB},
		"pass":     {req.Password},
		"pin":      {req.PIN},
		"type":     {req.ExamType},
		"callback": {g.cfg.CallbackURL},
	}
	env, err := g.client.postForm(ctx, name, g.cfg.SubmitURL, form, g.cfg.SubmitTimeout)
	if err != nil {
		return nil, err
	}
	if err := classify(name, env); err != nil {
		if pe, ok := err.(*Error); ok && pe.Outcome == Rejected && pe.Message == "" {
			pe.Message = "Application data verification failed"
		}
		return nil, err
	}
	if env.Token == "" {
		return nil, &Error{Outcome: Malformed, Provider: name, Code: string(env.Status), Message: "success response without token"}
	}

	return &ExamReceipt{
		Token:     env.Token,
		ApplNo:    firstNonEmpty(env.ApplNo, req.ApplNo),
		ApplName:  env.ApplName,
		DOB:       firstNonEmpty(env.DOB, req.DOB),
		Queue:     string(env.Queue),
		RTOCode:   env.RTOCode,
		RTOName:   env.RTOName,
		StateCode: env.StateCode,
		StateName: env.StateName,
		Message:   env.Message,
	}, nil
}

type ExamState int

const (
	ExamCompleted ExamState = iota
	ExamProcessing
	ExamRefunded
)

type ExamStatus struct {
	State    ExamState
	PDFData  string
	Filename string
	Remarks  string
	Queue    string
	Reason   string
	Message  string
}

func (g *ExamGateway) CheckExam(ctx context.Context, token string) (*ExamStatus, error) {
	const name = "exam_status"

	env, err := g.client.postForm(ctx, name, g.cfg.StatusURL, url.Values{"token": {token}}, g.cfg.StatusTimeout)
	if err != nil {
		return nil, err
	}

	switch env.Status {
	case CodeSuccess:
		if env.Message == "" {
			return nil, &Error{Outcome: Malformed, Provider: name, Code: string(env.Status), Message: "completed without document"}
		}
		return &ExamStatus{State: ExamCompleted, PDFData: env.Message, Filename: env.Filename, Remarks: env.Remarks}, nil
	case CodeUnavailable:
		// 500 on the status endpoint means the exam is still queued.
		return &ExamStatus{State: ExamProcessing, Queue: string(env.Queue), Remarks: env.Remarks, Message: env.Message}, nil
	case CodeRefunded:
		return &ExamStatus{State: ExamRefunded, Reason: env.Message, Message: env.Message}, nil
	}
	return nil, classify(name, env)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
