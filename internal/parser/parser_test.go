package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalSubmission = `<?xml version="1.0"?>
<Claim.Submission>
  <Header>
    <SenderID>S</SenderID>
    <ReceiverID>R</ReceiverID>
    <TransactionDate>2025-01-10T12:00:00Z</TransactionDate>
    <RecordCount>1</RecordCount>
  </Header>
  <Claim>
    <ID>C1</ID>
    <PayerID>P1</PayerID>
    <ProviderID>V1</ProviderID>
    <MemberID>M1</MemberID>
    <EmiratesIDNumber>784-0000</EmiratesIDNumber>
    <Gross>100.00</Gross>
    <PatientShare>10.00</PatientShare>
    <Net>90.00</Net>
    <Activity>
      <ID>A1</ID>
      <Start>2025-01-10T12:00:00Z</Start>
      <Type>3</Type>
      <Code>99213</Code>
      <Quantity>1</Quantity>
      <Net>90.00</Net>
      <Clinician>DR-1</Clinician>
    </Activity>
  </Claim>
</Claim.Submission>`

const mixedFileOneBadClaim = `<?xml version="1.0"?>
<Claim.Submission>
  <Header>
    <SenderID>S</SenderID>
    <ReceiverID>R</ReceiverID>
    <TransactionDate>2025-01-10T12:00:00Z</TransactionDate>
    <RecordCount>2</RecordCount>
  </Header>
  <Claim>
    <ID>C10</ID>
    <PayerID>P1</PayerID>
    <ProviderID>V1</ProviderID>
    <Net>50.00</Net>
  </Claim>
  <Claim>
    <ID>C11</ID>
    <PayerID>P1</PayerID>
    <ProviderID>V1</ProviderID>
  </Claim>
</Claim.Submission>`

func TestParseMinimalSubmission(t *testing.T) {
	result := Parse([]byte(minimalSubmission), Config{MaxAttachmentBytes: 10 << 20, AllowNonSchemaAttachments: true})

	require.Equal(t, RootSubmission, result.Root)
	require.NotNil(t, result.Submission)
	assert.Equal(t, "S", result.Submission.Header.SenderID)
	require.Len(t, result.Submission.Claims, 1)

	claim := result.Submission.Claims[0]
	assert.Equal(t, "C1", claim.ClaimID)
	require.Len(t, claim.Activities, 1)
	assert.Equal(t, "A1", claim.Activities[0].ActivityID)

	for _, p := range result.Problems {
		assert.NotEqual(t, SeverityError, p.Severity, "unexpected error problem: %+v", p)
	}
}

func TestParseMixedFileOneBadClaimIsolatesFailure(t *testing.T) {
	result := Parse([]byte(mixedFileOneBadClaim), Config{MaxAttachmentBytes: 10 << 20, AllowNonSchemaAttachments: true})

	require.NotNil(t, result.Submission)
	require.Len(t, result.Submission.Claims, 1, "only C10 should have persisted")
	assert.Equal(t, "C10", result.Submission.Claims[0].ClaimID)

	var found bool
	for _, p := range result.Problems {
		if p.Code == CodeClaimInvalidCore && p.ObjectKey == "C11" {
			found = true
		}
	}
	assert.True(t, found, "expected a CLAIM_INVALID_CORE problem for C11")
}

func TestParseUnknownRoot(t *testing.T) {
	result := Parse([]byte(`<Something.Else/>`), Config{})
	assert.Equal(t, RootUnknown, result.Root)
	require.Len(t, result.Problems, 1)
	assert.Equal(t, CodeUnknownRoot, result.Problems[0].Code)
}

func TestParseOversizeAttachmentIsWarningWhenAllowed(t *testing.T) {
	xmlDoc := `<?xml version="1.0"?>
<Claim.Submission>
  <Header><SenderID>S</SenderID><ReceiverID>R</ReceiverID><TransactionDate>2025-01-10T12:00:00Z</TransactionDate><RecordCount>1</RecordCount></Header>
  <Claim>
    <ID>C1</ID><PayerID>P1</PayerID><ProviderID>V1</ProviderID><Net>10.00</Net>
    <Activity>
      <ID>A1</ID><Code>99213</Code><Net>10.00</Net>
      <Observation><Type>T</Type><Code>C</Code><ValueType>FILE</ValueType><Value>QUFBQUFBQUFBQUFBQUFBQUFBQUE=</Value></Observation>
    </Activity>
  </Claim>
</Claim.Submission>`

	result := Parse([]byte(xmlDoc), Config{MaxAttachmentBytes: 4, AllowNonSchemaAttachments: true})
	require.NotNil(t, result.Submission)

	var found bool
	for _, p := range result.Problems {
		if p.Code == CodeObsFileTooLarge {
			found = true
			assert.Equal(t, SeverityWarning, p.Severity)
		}
	}
	assert.True(t, found)
}
