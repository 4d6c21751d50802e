// Package parser implements the Streaming Parser & Validator (C6,
// spec.md §4.6): a StAX-style pull parser over encoding/xml.Decoder that
// yields typed DTOs while emitting fine-grained parse/validation
// problems. A single bad claim never fails the whole file — each
// <Claim> is decoded and validated independently inside the token loop.
// The exception is Config.FailOnXSDError: with it set, any XSD_INVALID
// problem makes Parse return no DTO for the file.
package parser

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"time"
)

// Config controls the parser's toggles, named in spec.md §6.
type Config struct {
	FailOnXSDError            bool
	MaxAttachmentBytes        int64 // default 10 MiB
	AllowNonSchemaAttachments bool
}

// Result bundles whichever DTO matched the root kind, plus every
// ParseProblem accumulated along the way (file-level and per-object).
type Result struct {
	Root        RootKind
	Submission  *SubmissionDTO
	Remittance  *RemittanceAdviceDTO
	Problems    []ParseProblem
}

// rawHeader mirrors the wire <Header> element, shared by both root
// kinds.
type rawHeader struct {
	SenderID        string `xml:"SenderID"`
	ReceiverID      string `xml:"ReceiverID"`
	TransactionDate string `xml:"TransactionDate"`
	RecordCount     int    `xml:"RecordCount"`
}

type rawDiagnosis struct {
	Type string `xml:"Type"`
	Code string `xml:"Code"`
}

type rawEncounter struct {
	FacilityID          string `xml:"FacilityID"`
	Type                string `xml:"Type"`
	PatientID           string `xml:"PatientID"`
	Start               string `xml:"Start"`
	End                 string `xml:"End"`
	StartType           string `xml:"StartType"`
	EndType             string `xml:"EndType"`
	TransferSource      string `xml:"TransferSource"`
	TransferDestination string `xml:"TransferDestination"`
}

type rawObservation struct {
	Type  string `xml:"Type"`
	Code  string `xml:"Code"`
	Value string `xml:"Value"`
	ValueType string `xml:"ValueType"`
}

type rawActivity struct {
	ID          string           `xml:"ID"`
	Start       string           `xml:"Start"`
	Type        string           `xml:"Type"`
	Code        string           `xml:"Code"`
	Quantity    float64          `xml:"Quantity"`
	Net         float64          `xml:"Net"`
	Clinician   string           `xml:"Clinician"`
	PriorAuthID string           `xml:"PriorAuthorizationID"`
	Observations []rawObservation `xml:"Observation"`
}

type rawResubmission struct {
	Type       string `xml:"Type"`
	Comment    string `xml:"Comment"`
	Attachment string `xml:"Attachment"`
}

type rawClaim struct {
	ID                string          `xml:"ID"`
	PayerID           string          `xml:"PayerID"`
	ProviderID        string          `xml:"ProviderID"`
	MemberID          string          `xml:"MemberID"`
	PatientIdentifier string          `xml:"EmiratesIDNumber"`
	Gross             float64         `xml:"Gross"`
	PatientShare      float64         `xml:"PatientShare"`
	Net               *float64        `xml:"Net"`
	Comments          string          `xml:"Comments"`
	Encounter         *rawEncounter   `xml:"Encounter"`
	Diagnoses         []rawDiagnosis  `xml:"Diagnosis"`
	Activities        []rawActivity   `xml:"Activity"`
	Resubmission      *rawResubmission `xml:"Resubmission"`
}

type rawRemittanceActivity struct {
	ID            string  `xml:"ID"`
	PaymentAmount float64 `xml:"PaymentAmount"`
	ListPrice     float64 `xml:"ListPrice"`
	Gross         float64 `xml:"Gross"`
	PatientShare  float64 `xml:"PatientShare"`
	DenialCode    string  `xml:"DenialCode"`
}

type rawRemittanceClaim struct {
	ID             string                  `xml:"ID"`
	PayerID        string                  `xml:"PayerID"`
	ProviderID     string                  `xml:"ProviderID"`
	DenialCode     string                  `xml:"DenialCode"`
	PaymentRef     string                  `xml:"PaymentReference"`
	DateSettlement string                  `xml:"DateSettlement"`
	FacilityID     string                  `xml:"FacilityID"`
	Activities     []rawRemittanceActivity `xml:"Activity"`
}

// Parse transforms raw into a typed DTO, dispatching on the root element
// sniffed from the first bytes of the document (spec.md §4.6's "cheap
// byte-level scan"). Files matching neither known root return
// UNKNOWN_ROOT with no DTO. With cfg.FailOnXSDError set, a file with any
// XSD_INVALID problem also comes back with no DTO, so nothing from it is
// persisted.
func Parse(raw []byte, cfg Config) Result {
	root := sniffRoot(sniffWindowOf(raw))
	var result Result
	switch root {
	case RootSubmission:
		result = parseSubmission(raw, cfg)
	case RootRemittance:
		result = parseRemittance(raw, cfg)
	default:
		return Result{
			Root: RootUnknown,
			Problems: []ParseProblem{{
				Severity: SeverityError, Code: CodeUnknownRoot,
				Message: "root element is neither Claim.Submission nor Remittance.Advice",
			}},
		}
	}
	if cfg.FailOnXSDError {
		for _, p := range result.Problems {
			if p.Code == CodeXSDInvalid {
				result.Submission, result.Remittance = nil, nil
				break
			}
		}
	}
	return result
}

func parseSubmission(raw []byte, cfg Config) Result {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	dto := &SubmissionDTO{}
	var problems []ParseProblem

	headerSeen := false
	claimCount := 0

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			problems = append(problems, ParseProblem{
				Severity: SeverityError, Code: CodeXSDInvalid,
				Message: fmt.Sprintf("xml token error: %v", err),
			})
			break
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "Header":
			var h rawHeader
			if err := decoder.DecodeElement(&h, &start); err != nil {
				problems = append(problems, ParseProblem{
					Severity: SeverityError, Code: CodeHeaderMissing,
					Message: fmt.Sprintf("decode header: %v", err),
				})
				continue
			}
			headerSeen = true
			dto.Header = toHeader(h, &problems)

		case "Claim":
			claimCount++
			var rc rawClaim
			if err := decoder.DecodeElement(&rc, &start); err != nil {
				problems = append(problems, ParseProblem{
					Severity: SeverityError, Code: CodeClaimInvalidCore,
					ObjectType: "Claim", Message: fmt.Sprintf("decode claim: %v", err),
				})
				continue // a single bad claim never fails the whole file
			}
			claim, claimProblems := toClaimDTO(rc, cfg)
			problems = append(problems, claimProblems...)
			if claim != nil {
				dto.Claims = append(dto.Claims, *claim)
			}
		}
	}

	if !headerSeen {
		problems = append(problems, ParseProblem{Severity: SeverityError, Code: CodeHeaderMissing, Message: "no <Header> element found"})
	}
	if dto.Header.RecordCount != 0 && dto.Header.RecordCount != claimCount {
		problems = append(problems, ParseProblem{
			Severity: SeverityWarning, Code: CodeRecordCountMismatch,
			Message: fmt.Sprintf("header declared %d records, found %d claims", dto.Header.RecordCount, claimCount),
		})
	}

	return Result{Root: RootSubmission, Submission: dto, Problems: escalate(problems, cfg.FailOnXSDError)}
}

func toHeader(h rawHeader, problems *[]ParseProblem) Header {
	t, err := parseFlexibleTime(h.TransactionDate)
	if err != nil {
		*problems = append(*problems, ParseProblem{
			Severity: SeverityError, Code: CodeDateUnparseable,
			ObjectType: "Header", Message: fmt.Sprintf("unparseable TransactionDate %q: %v", h.TransactionDate, err),
		})
	}
	return Header{SenderID: h.SenderID, ReceiverID: h.ReceiverID, TransactionDate: t.UTC(), RecordCount: h.RecordCount}
}

func toClaimDTO(rc rawClaim, cfg Config) (*ClaimDTO, []ParseProblem) {
	claim := ClaimDTO{
		ClaimID: rc.ID, PayerID: rc.PayerID, ProviderID: rc.ProviderID, MemberID: rc.MemberID,
		PatientIdentifier: rc.PatientIdentifier, Gross: rc.Gross, PatientShare: rc.PatientShare,
		Net: rc.Net, Comments: rc.Comments,
	}

	var problems []ParseProblem

	if rc.Encounter != nil {
		start, err := parseFlexibleTime(rc.Encounter.Start)
		if err != nil {
			problems = append(problems, ParseProblem{Severity: SeverityError, Code: CodeDateUnparseable, ObjectType: "Encounter", ObjectKey: rc.ID, Message: err.Error()})
		}
		enc := &EncounterDTO{
			FacilityID: rc.Encounter.FacilityID, EncounterType: rc.Encounter.Type, PatientID: rc.Encounter.PatientID,
			Start: start, StartType: rc.Encounter.StartType, EndType: rc.Encounter.EndType,
			TransferSource: rc.Encounter.TransferSource, TransferDestination: rc.Encounter.TransferDestination,
		}
		if rc.Encounter.End != "" {
			if end, err := parseFlexibleTime(rc.Encounter.End); err == nil {
				enc.End = &end
			}
		}
		claim.Encounter = enc
	}

	for _, d := range rc.Diagnoses {
		claim.Diagnoses = append(claim.Diagnoses, DiagnosisDTO{Type: d.Type, Code: d.Code})
	}

	for _, a := range rc.Activities {
		start, err := parseFlexibleTime(a.Start)
		if err != nil {
			problems = append(problems, ParseProblem{Severity: SeverityError, Code: CodeDateUnparseable, ObjectType: "Activity", ObjectKey: a.ID, Message: err.Error()})
		}
		activity := ActivityDTO{
			ActivityID: a.ID, Start: start, Type: a.Type, Code: a.Code,
			Quantity: a.Quantity, Net: a.Net, Clinician: a.Clinician, PriorAuthID: a.PriorAuthID,
		}
		for _, o := range a.Observations {
			obs := ObservationDTO{ObsType: o.Type, ObsCode: o.Code, ValueText: o.Value, ValueType: o.ValueType}
			if o.ValueType == "FILE" {
				raw, err := base64.StdEncoding.DecodeString(o.Value)
				if err != nil {
					problems = append(problems, ParseProblem{
						Severity: SeverityError, Code: CodeAttachmentCorrupt,
						ObjectType: "Observation", ObjectKey: a.ID, Message: fmt.Sprintf("base64 decode failed: %v", err),
					})
				} else if int64(len(raw)) > cfg.MaxAttachmentBytes {
					sev := SeverityWarning
					if !cfg.AllowNonSchemaAttachments {
						sev = SeverityError
					}
					problems = append(problems, ParseProblem{
						Severity: sev, Code: CodeObsFileTooLarge,
						ObjectType: "Observation", ObjectKey: a.ID,
						Message: fmt.Sprintf("attachment %d bytes exceeds max %d", len(raw), cfg.MaxAttachmentBytes),
					})
					obs.RawBytes = raw
				} else {
					obs.RawBytes = raw
				}
			}
			activity.Observations = append(activity.Observations, obs)
		}
		claim.Activities = append(claim.Activities, activity)
	}

	if rc.Resubmission != nil {
		claim.Resubmission = &ResubmissionDTO{Type: rc.Resubmission.Type, Comment: rc.Resubmission.Comment, AttachmentText: rc.Resubmission.Attachment}
	}

	problems = append(problems, checkClaimShape(claim)...)
	problems = append(problems, validateClaim(claim)...)

	hasHardError := false
	for _, p := range problems {
		if p.Code == CodeClaimInvalidCore {
			hasHardError = true
			break
		}
		if p.Code == CodeXSDInvalid && (p.Severity == SeverityError || cfg.FailOnXSDError) {
			hasHardError = true
			break
		}
	}
	if hasHardError {
		return nil, problems
	}
	return &claim, problems
}

func parseRemittance(raw []byte, cfg Config) Result {
	decoder := xml.NewDecoder(bytes.NewReader(raw))
	dto := &RemittanceAdviceDTO{}
	var problems []ParseProblem

	headerSeen := false
	claimCount := 0

	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			problems = append(problems, ParseProblem{Severity: SeverityError, Code: CodeXSDInvalid, Message: fmt.Sprintf("xml token error: %v", err)})
			break
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "Header":
			var h rawHeader
			if err := decoder.DecodeElement(&h, &start); err != nil {
				problems = append(problems, ParseProblem{Severity: SeverityError, Code: CodeHeaderMissing, Message: err.Error()})
				continue
			}
			headerSeen = true
			dto.Header = toHeader(h, &problems)

		case "Claim":
			claimCount++
			var rc rawRemittanceClaim
			if err := decoder.DecodeElement(&rc, &start); err != nil {
				problems = append(problems, ParseProblem{Severity: SeverityError, Code: CodeClaimInvalidCore, ObjectType: "RemittanceClaim", Message: err.Error()})
				continue
			}
			claim := toRemittanceClaimDTO(rc)
			dto.Claims = append(dto.Claims, claim)
		}
	}

	if !headerSeen {
		problems = append(problems, ParseProblem{Severity: SeverityError, Code: CodeHeaderMissing, Message: "no <Header> element found"})
	}
	if dto.Header.RecordCount != 0 && dto.Header.RecordCount != claimCount {
		problems = append(problems, ParseProblem{Severity: SeverityWarning, Code: CodeRecordCountMismatch, Message: fmt.Sprintf("header declared %d records, found %d claims", dto.Header.RecordCount, claimCount)})
	}

	return Result{Root: RootRemittance, Remittance: dto, Problems: escalate(problems, cfg.FailOnXSDError)}
}

func toRemittanceClaimDTO(rc rawRemittanceClaim) RemittanceClaimDTO {
	claim := RemittanceClaimDTO{
		ClaimID: rc.ID, PayerID: rc.PayerID, ProviderID: rc.ProviderID,
		DenialCode: rc.DenialCode, PaymentRef: rc.PaymentRef, FacilityID: rc.FacilityID,
	}
	if rc.DateSettlement != "" {
		if t, err := parseFlexibleTime(rc.DateSettlement); err == nil {
			claim.DateSettlement = &t
		}
	}
	for _, a := range rc.Activities {
		claim.Activities = append(claim.Activities, RemittanceActivityDTO{
			ActivityID: a.ID, PaymentAmount: a.PaymentAmount, ListPrice: a.ListPrice,
			Gross: a.Gross, PatientShare: a.PatientShare, DenialCode: a.DenialCode,
		})
	}
	return claim
}

// parseFlexibleTime parses a header or element date. Header dates
// normalize to UTC by the caller; sub-element dates retain their
// declared offset but are always stored as an absolute instant, per
// spec.md §4.6's date semantics.
func parseFlexibleTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date value")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("value %q matches no known date layout", s)
}
