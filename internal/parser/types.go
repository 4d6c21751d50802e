package parser

import "time"

// Severity classifies a ParseProblem.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Standard problem codes named in spec.md §4.6.
const (
	CodeUnknownRoot         = "UNKNOWN_ROOT"
	CodeXSDInvalid          = "XSD_INVALID"
	CodeHeaderMissing       = "HDR_MISSING"
	CodeClaimInvalidCore    = "CLAIM_INVALID_CORE"
	CodeActivityInvalidCore = "ACTIVITY_INVALID_CORE"
	CodeObsFileTooLarge     = "OBS_FILE_TOO_LARGE"
	CodeAttachmentCorrupt   = "ATTACHMENT_B64_CORRUPT"
	CodeRecordCountMismatch = "RECORDCOUNT_MISMATCH"
	CodeDateUnparseable     = "DATE_UNPARSEABLE"
	CodeDupSubmissionNoResub = "DUP_SUBMISSION_NO_RESUB"
)

// ParseProblem is one fine-grained parse or validation finding; the
// pipeline records every one as an ingestion_error row, with or without
// an ObjectKey.
type ParseProblem struct {
	Severity   Severity
	Code       string
	ObjectType string
	ObjectKey  string
	Message    string
	Line       int
	Column     int
}

// Header is common to both root kinds.
type Header struct {
	SenderID        string
	ReceiverID      string
	TransactionDate time.Time
	RecordCount     int
}

// SubmissionDTO is the parsed result of a <Claim.Submission> file.
type SubmissionDTO struct {
	Header Header
	Claims []ClaimDTO
}

// ClaimDTO is one submitted claim, assembled claim-at-a-time so a single
// bad claim never fails the whole file.
type ClaimDTO struct {
	ClaimID           string  `validate:"required"`
	PayerID           string  `validate:"required"`
	ProviderID        string  `validate:"required"`
	MemberID          string
	PatientIdentifier string
	Gross             float64  `validate:"gte=0"`
	PatientShare      float64  `validate:"gte=0"`
	Net               *float64 `validate:"required"` // pointer: distinguishes "missing" from a legitimate 0.00
	Comments          string

	Encounter    *EncounterDTO
	Diagnoses    []DiagnosisDTO
	Activities   []ActivityDTO `validate:"dive"`
	Resubmission *ResubmissionDTO
}

type EncounterDTO struct {
	FacilityID          string
	EncounterType       string
	PatientID           string
	Start               time.Time
	End                 *time.Time
	StartType           string
	EndType             string
	TransferSource      string
	TransferDestination string
}

type DiagnosisDTO struct {
	Type string
	Code string
}

type ActivityDTO struct {
	ActivityID  string  `validate:"required"`
	Start       time.Time
	Type        string
	Code        string  `validate:"required"`
	Quantity    float64 `validate:"gte=0"`
	Net         float64 `validate:"gte=0"`
	Clinician   string
	PriorAuthID string

	Observations []ObservationDTO
}

type ObservationDTO struct {
	ObsType   string
	ObsCode   string
	ValueText string
	ValueType string // "TEXT" | "FILE"
	RawBytes  []byte // populated when ValueType == "FILE" and base64 decodes cleanly
}

type ResubmissionDTO struct {
	Type           string
	Comment        string
	AttachmentText string // base64 as carried on the wire
}

// RemittanceAdviceDTO is the parsed result of a <Remittance.Advice> file.
type RemittanceAdviceDTO struct {
	Header Header
	Claims []RemittanceClaimDTO
}

type RemittanceClaimDTO struct {
	ClaimID        string
	PayerID        string
	ProviderID     string
	DenialCode     string
	PaymentRef     string
	DateSettlement *time.Time
	FacilityID     string

	Activities []RemittanceActivityDTO
}

type RemittanceActivityDTO struct {
	ActivityID    string
	PaymentAmount float64
	ListPrice     float64
	Gross         float64
	PatientShare  float64
	DenialCode    string
}

// RootKind identifies which of the two document shapes a file's root
// element declared, resolved by the cheap byte-level scan in root.go.
type RootKind int

const (
	RootUnknown RootKind = iota
	RootSubmission
	RootRemittance
)
