package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/servicehub/backend/internal/money"
)

// RecordKind discriminates the fulfillment record variants.
type RecordKind string

const (
	KindServiceRequest RecordKind = "service_request"
	KindExam           RecordKind = "exam"
	KindLicensePDF     RecordKind = "license_pdf"
)

type RecordStatus string

const (
	StatusPending    RecordStatus = "pending"
	StatusSubmitted  RecordStatus = "submitted"
	StatusProcessing RecordStatus = "processing"
	StatusCompleted  RecordStatus = "completed"
	StatusSuccess    RecordStatus = "success"
	StatusFailed     RecordStatus = "failed"
	StatusRefunded   RecordStatus = "refunded"
)

func (s RecordStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusSuccess, StatusFailed, StatusRefunded:
		return true
	}
	return false
}

// Record is one paid fulfillment. Its ID doubles as the correlation id on
// the ledger entries that debit or refund it.
type Record struct {
	ID            string       `json:"id" bson:"_id" db:"id"`
	Kind          RecordKind   `json:"kind" bson:"kind" db:"kind"`
	UserID        string       `json:"userId" bson:"userId" db:"user_id"`
	UserName      string       `json:"userName" bson:"userName" db:"user_name"`
	UserMobile    string       `json:"userMobile" bson:"userMobile" db:"user_mobile"`
	ServiceID     string       `json:"serviceId" bson:"serviceId" db:"service_id"`
	ServiceName   string       `json:"serviceName" bson:"serviceName" db:"service_name"`
	Price         money.Amount `json:"servicePrice" bson:"price" db:"price" swaggertype:"number"`
	Status        RecordStatus `json:"status" bson:"status" db:"status"`
	Token         string       `json:"token,omitempty" bson:"token,omitempty" db:"token"`
	AdminMessage  string       `json:"adminMessage,omitempty" bson:"adminMessage,omitempty" db:"admin_message"`
	Payload       Payload      `json:"payload" bson:"payload" db:"payload"`
	CreatedAt     time.Time    `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt     time.Time    `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
	LastCheckedAt *time.Time   `json:"lastCheckedAt,omitempty" bson:"lastCheckedAt,omitempty" db:"last_checked_at"`
	CompletedAt   *time.Time   `json:"completedAt,omitempty" bson:"completedAt,omitempty" db:"completed_at"`
}

// Payload holds the provider-specific part of a record. Exactly one field is
// set, matching the record kind.
type Payload struct {
	Fields  FieldData       `json:"fields,omitempty" bson:"fields,omitempty"`
	Exam    *ExamPayload    `json:"exam,omitempty" bson:"exam,omitempty"`
	License *LicensePayload `json:"license,omitempty" bson:"license,omitempty"`
}

// Summary returns a copy without document bodies, for list views.
func (r Record) Summary() Record {
	if r.Payload.Exam != nil {
		exam := *r.Payload.Exam
		exam.PDFData = ""
		r.Payload.Exam = &exam
	}
	if r.Payload.License != nil {
		lic := *r.Payload.License
		lic.PDFData = ""
		r.Payload.License = &lic
	}
	return r
}

// Document returns the base64 document attached to the record, if any.
func (r Record) Document() (data, filename string, ok bool) {
	switch {
	case r.Payload.Exam != nil && r.Payload.Exam.PDFData != "":
		name := r.Payload.Exam.Filename
		if name == "" {
			name = fmt.Sprintf("LLR_%s.pdf", r.Payload.Exam.ApplNo)
		}
		return r.Payload.Exam.PDFData, name, true
	case r.Payload.License != nil && r.Payload.License.PDFData != "":
		return r.Payload.License.PDFData, fmt.Sprintf("DL_%s.pdf", r.Payload.License.DLNo), true
	}
	return "", "", false
}

type ExamPayload struct {
	ApplNo       string `json:"applno" bson:"applno"`
	ApplName     string `json:"applname,omitempty" bson:"applname,omitempty"`
	DOB          string `json:"dob" bson:"dob"`
	ExamType     string `json:"type" bson:"type"`
	Queue        string `json:"queue,omitempty" bson:"queue,omitempty"`
	RTOCode      string `json:"rtocode,omitempty" bson:"rtocode,omitempty"`
	RTOName      string `json:"rtoname,omitempty" bson:"rtoname,omitempty"`
	StateCode    string `json:"statecode,omitempty" bson:"statecode,omitempty"`
	StateName    string `json:"statename,omitempty" bson:"statename,omitempty"`
	Remarks      string `json:"remarks,omitempty" bson:"remarks,omitempty"`
	Filename     string `json:"filename,omitempty" bson:"filename,omitempty"`
	PDFData      string `json:"pdfData,omitempty" bson:"pdfData,omitempty"`
	RefundReason string `json:"refundReason,omitempty" bson:"refundReason,omitempty"`
}

type LicensePayload struct {
	DLNo        string `json:"dlno" bson:"dlno"`
	PDFType     string `json:"pdfType" bson:"pdfType"`
	BloodGroup  string `json:"bloodGroup" bson:"bloodGroup"`
	AddressType string `json:"addressType" bson:"addressType"`
	Name        string `json:"name,omitempty" bson:"name,omitempty"`
	DOB         string `json:"dob,omitempty" bson:"dob,omitempty"`
	PDFData     string `json:"pdfData,omitempty" bson:"pdfData,omitempty"`
}

// FieldValue is one user-supplied answer. Value is a string, number, bool
// or nil.
type FieldValue struct {
	Key   string `bson:"key"`
	Value any    `bson:"value"`
}

// FieldData keeps answers in the order the client sent them.
type FieldData []FieldValue

func (f FieldData) Get(key string) (any, bool) {
	for _, fv := range f {
		if fv.Key == key {
			return fv.Value, true
		}
	}
	return nil, false
}

func (f FieldData) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, fv := range f {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(fv.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(fv.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat JSON object. Nested objects and arrays are
// rejected.
func (f *FieldData) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("field data must be an object")
	}

	out := FieldData{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)

		valTok, err := dec.Token()
		if err != nil {
			return err
		}
		if _, isDelim := valTok.(json.Delim); isDelim {
			return fmt.Errorf("field %q must be a scalar value", key)
		}
		if n, isNum := valTok.(json.Number); isNum {
			if i, err := n.Int64(); err == nil {
				valTok = i
			} else if fl, err := n.Float64(); err == nil {
				valTok = fl
			}
		}
		out = append(out, FieldValue{Key: key, Value: valTok})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
