package provider

import (
	"context"
	"net/url"
	"strings"
	"time"
)

type LicenseConfig struct {
	URL     string
	Timeout time.Duration
}

// LicenseGateway generates driving licence PDFs.
type LicenseGateway struct {
	client *Client
	cfg    LicenseConfig
}

func NewLicenseGateway(client *Client, cfg LicenseConfig) *LicenseGateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &LicenseGateway{client: client, cfg: cfg}
}

type LicenseRequest struct {
	DLNo        string
	PDFType     string
	BloodGroup  string
	AddressType string
}

func (r LicenseRequest) Normalize() LicenseRequest {
	r.DLNo = strings.ToUpper(strings.TrimSpace(r.DLNo))
	r.PDFType = strings.ToLower(strings.TrimSpace(r.PDFType))
	if r.PDFType == "" {
		r.PDFType = "type1"
	}
	r.BloodGroup = strings.ToUpper(strings.TrimSpace(r.BloodGroup))
	if r.BloodGroup == "" {
		r.BloodGroup = "O+"
	}
	r.AddressType = strings.ToLower(strings.TrimSpace(r.AddressType))
	if r.AddressType == "" {
		r.AddressType = "perm"
	}
	return r
}

type LicenseDocument struct {
	Name    string
	DOB     string
	PDFData string
	Message string
}

func (g *LicenseGateway) GeneratePDF(ctx context.Context, req LicenseRequest) (*LicenseDocument, error) {
	const name = "license_pdf"
	req = req.Normalize()

	form := url.Values{
		"apikey":   {g.client.apiKey},
		"dlno":     {req.DLNo},
		"type":     {req.PDFType},
		"blood":    {req.BloodGroup},
		"addrtype": {req.AddressType},
	}
	env, err := g.client.postForm(ctx, name, g.cfg.URL, form, g.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	switch env.Status {
	case CodeSuccess:
		if env.PDF == "" {
			return nil, &Error{Outcome: Malformed, Provider: name, Code: string(env.Status), Message: "success response without pdf"}
		}
		return &LicenseDocument{Name: env.Name, DOB: env.DOB, PDFData: env.PDF, Message: env.Message}, nil
	case CodeUnavailable:
		return nil, &Error{Outcome: Unavailable, Provider: name, Code: string(env.Status), Message: env.Message}
	}

	// Any other status is the API refusing this licence number.
	msg := env.Message
	if msg == "" {
		msg = "Failed to generate PDF"
	}
	return nil, &Error{Outcome: Rejected, Provider: name, Code: string(env.Status), Message: msg}
}
