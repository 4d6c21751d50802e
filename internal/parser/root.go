package parser

import "bytes"

var (
	submissionMarker = []byte("<Claim.Submission")
	remittanceMarker = []byte("<Remittance.Advice")
)

// sniffRoot performs the cheap byte-level scan named in spec.md §4.6: it
// looks only at the first few KB for one of the two known root element
// openings, never fully parsing the document to decide. Files matching
// neither are UNKNOWN_ROOT.
func sniffRoot(head []byte) RootKind {
	switch {
	case bytes.Contains(head, submissionMarker):
		return RootSubmission
	case bytes.Contains(head, remittanceMarker):
		return RootRemittance
	default:
		return RootUnknown
	}
}

const sniffWindow = 4096

func sniffWindowOf(data []byte) []byte {
	if len(data) > sniffWindow {
		return data[:sniffWindow]
	}
	return data
}
