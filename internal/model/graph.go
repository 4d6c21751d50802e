package model

import "time"

// IngestionFile is the provenance root. file_id is the idempotency key:
// every downstream row traces back to exactly one IngestionFile.
type IngestionFile struct {
	ID               int64
	FileID           string
	RootKind         RootKind
	SenderID         string
	ReceiverID       string
	TransactionTime  time.Time
	DeclaredRecords  int
	Disposition      string
	RawXML           []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ClaimKey is the business identity of a claim, created lazily on first
// encounter in any role (submission or remittance).
type ClaimKey struct {
	ID      int64
	ClaimID string
}

// Submission groups the claims carried by one submission IngestionFile.
type Submission struct {
	ID              int64
	IngestionFileID int64
}

// Remittance groups the claims carried by one remittance IngestionFile.
type Remittance struct {
	ID              int64
	IngestionFileID int64
}

// Claim is the one-to-one submission fact for a ClaimKey.
type Claim struct {
	ID                int64
	ClaimKeyID        int64
	SubmissionID      int64
	PayerID           string
	ProviderID        string
	MemberID          string
	PatientIdentifier string // may be pre-hashed, see ingestion.security.hashSensitive
	Gross             float64
	PatientShare      float64
	Net               float64
	Comments          string
	PayerRefID        *int64
	ProviderRefID     *int64
}

// Encounter is zero-or-one per Claim.
type Encounter struct {
	ID                  int64
	ClaimID             int64
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

// Diagnosis is many-per-Claim.
type Diagnosis struct {
	ID      int64
	ClaimID int64
	Type    string
	Code    string
}

// Activity is many-per-Claim, unique by (claim_id, activity_id).
type Activity struct {
	ID            int64
	ClaimID       int64
	ActivityID    string
	Start         time.Time
	Type          string
	Code          string
	Quantity      float64
	Net           float64
	Clinician     string
	PriorAuthID   string
	ClinicianRefID *int64
}

// Observation is deduplicated by (activity_id, obs_type, obs_code,
// hash(value_text)).
type Observation struct {
	ID        int64
	ActivityID int64
	ObsType   string
	ObsCode   string
	ValueText string
	ValueHash string // hex digest computed via pgcrypto digest() at insert time
	RawBytes  []byte // non-nil only for ObsValueFile
}

// RemittanceClaim is child of a Remittance group and a ClaimKey, unique
// by (remittance_id, claim_key_id).
type RemittanceClaim struct {
	ID             int64
	RemittanceID   int64
	ClaimKeyID     int64
	PayerID        string
	ProviderID     string
	DenialCode     string
	PaymentRef     string
	DateSettlement *time.Time
	FacilityID     string
}

// RemittanceActivity is child of RemittanceClaim, unique by
// (remittance_claim_id, activity_id).
type RemittanceActivity struct {
	ID                int64
	RemittanceClaimID int64
	ActivityID        string
	PaymentAmount     float64
	ListPrice         float64
	Gross             float64
	PatientShare      float64
	DenialCode        string
}

// ClaimEvent is the append-only chronology per ClaimKey, unique by
// (claim_key_id, type, event_time), with at most one SUBMISSION ever.
type ClaimEvent struct {
	ID              int64
	ClaimKeyID      int64
	Type            ClaimEventType
	EventTime       time.Time
	IngestionFileID int64
	SubmissionID    *int64
	RemittanceID    *int64
}

// ClaimEventActivity is the per-event activity snapshot, unique by
// (claim_event_id, activity_id_at_event).
type ClaimEventActivity struct {
	ID               int64
	ClaimEventID     int64
	ActivityIDAtEvent string
	Net              float64
	ListPrice        float64
	Gross            float64
	PatientShare     float64
	PaymentAmount    float64
	DenialCode       string
	PriorAuthID      string
}

// EventObservation is the per-event observation snapshot, child of
// ClaimEventActivity.
type EventObservation struct {
	ID                   int64
	ClaimEventActivityID int64
	ObsType              string
	ObsCode              string
	ValueText            string
	ValueHash            string
}

// ClaimResubmission is one-to-one with a RESUBMISSION event.
type ClaimResubmission struct {
	ID             int64
	ClaimEventID   int64
	ResubType      string
	Comment        string
	AttachmentData []byte
}

// ClaimStatusTimeline is the append-only derived-status history per
// ClaimKey; the latest row is current status.
type ClaimStatusTimeline struct {
	ID         int64
	ClaimKeyID int64
	Status     ClaimStatus
	StatusTime time.Time
}

// FacilityConfig is per-facility SOAP configuration, owned by an
// administrative collaborator and consumed by the fetch coordinator and
// credential vault.
type FacilityConfig struct {
	ID               int64
	FacilityCode     string
	DisplayName      string
	EndpointURL      string
	LoginCiphertext  []byte
	PasswordCipher   []byte
	CredentialMeta   []byte // JSON envelope: kek_version, alg, iv, tagBits
	Active           bool
}
