package soap

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"time"
)

// FileRow is one row in the GetNewTransactions / SearchTransactions
// file list (spec.md §6).
type FileRow struct {
	FileID          string
	FileName        string
	SenderID        string
	ReceiverID      string
	TransactionDate time.Time
	RecordCount     int
	IsDownloaded    *bool // only populated by SearchTransactions
}

// rawFileList mirrors the inner <File .../> list embedded in a
// GetNewTransactions/SearchTransactions response; tolerant of absent
// optional attributes per spec.md §4.2.
type rawFileList struct {
	XMLName xml.Name  `xml:"Files"`
	Files   []rawFile `xml:"File"`
}

type rawFile struct {
	FileID          string `xml:"FileID,attr"`
	FileName        string `xml:"FileName,attr"`
	SenderID        string `xml:"SenderID,attr"`
	ReceiverID      string `xml:"ReceiverID,attr"`
	TransactionDate string `xml:"TransactionDate,attr"`
	RecordCount     int    `xml:"RecordCount,attr"`
	IsDownloaded    string `xml:"IsDownloaded,attr"`
}

// ParseFileList parses the inner XML list of <File .../> rows carried by
// GetNewTransactions/SearchTransactions responses. Absent optional nodes
// or attributes never fail the parse; they are left as zero values.
func ParseFileList(inner []byte) ([]FileRow, error) {
	var list rawFileList
	if err := xml.Unmarshal(inner, &list); err != nil {
		return nil, fmt.Errorf("parse file list: %w", err)
	}

	rows := make([]FileRow, 0, len(list.Files))
	for _, f := range list.Files {
		row := FileRow{
			FileID:      f.FileID,
			FileName:    f.FileName,
			SenderID:    f.SenderID,
			ReceiverID:  f.ReceiverID,
			RecordCount: f.RecordCount,
		}
		if t, err := time.Parse(time.RFC3339, f.TransactionDate); err == nil {
			row.TransactionDate = t.UTC()
		}
		if f.IsDownloaded != "" {
			b := f.IsDownloaded == "true" || f.IsDownloaded == "1"
			row.IsDownloaded = &b
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// DownloadResult is the parsed outcome of DownloadTransactionFile.
type DownloadResult struct {
	Code         int
	FileName     string
	Bytes        []byte
	ErrorMessage string
}

type downloadResponse struct {
	XMLName      xml.Name `xml:"DownloadTransactionFileResult"`
	Code         int      `xml:"Code"`
	FileName     string   `xml:"FileName"`
	FileBase64   string   `xml:"File"`
	ErrorMessage string   `xml:"ErrorMessage"`
}

// ParseDownloadResponse decodes a DownloadTransactionFile response,
// including base64-decoding the embedded file bytes.
func ParseDownloadResponse(body []byte) (DownloadResult, error) {
	var resp downloadResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return DownloadResult{}, fmt.Errorf("parse download response: %w", err)
	}
	result := DownloadResult{Code: resp.Code, FileName: resp.FileName, ErrorMessage: resp.ErrorMessage}
	if resp.FileBase64 != "" {
		raw, err := base64.StdEncoding.DecodeString(resp.FileBase64)
		if err != nil {
			return DownloadResult{}, fmt.Errorf("decode base64 file payload: %w", err)
		}
		result.Bytes = raw
	}
	return result, nil
}

// AckResponse is the parsed outcome of SetTransactionDownloaded.
type AckResponse struct {
	Code         int
	ErrorMessage string
}

type ackResponse struct {
	XMLName      xml.Name `xml:"SetTransactionDownloadedResult"`
	Code         int      `xml:"Code"`
	ErrorMessage string   `xml:"ErrorMessage"`
}

// ParseAckResponse decodes a SetTransactionDownloaded response.
func ParseAckResponse(body []byte) (AckResponse, error) {
	var resp ackResponse
	if err := xml.Unmarshal(body, &resp); err != nil {
		return AckResponse{}, fmt.Errorf("parse ack response: %w", err)
	}
	return AckResponse{Code: resp.Code, ErrorMessage: resp.ErrorMessage}, nil
}

// SearchParams carries SearchTransactions' request fields (spec.md §6).
type SearchParams struct {
	Login           string
	Password        string
	Direction       string
	CallerLicense   string
	EPartner        string
	TransactionID   string
	Status          string
	DateFrom        time.Time
	DateTo          time.Time
	MinRecordCount  int
	MaxRecordCount  int
}

// RenderGetNewTransactions builds the operation-specific inner XML for
// GetNewTransactions, to be wrapped by BuildEnvelope.
func RenderGetNewTransactions(login, password string) []byte {
	return []byte(fmt.Sprintf(
		`<GetNewTransactions xmlns="DHPO"><login>%s</login><pwd>%s</pwd></GetNewTransactions>`,
		xmlEscape(login), xmlEscape(password)))
}

// RenderSearchTransactions builds the operation-specific inner XML for
// SearchTransactions over the trailing window in params.
func RenderSearchTransactions(params SearchParams) []byte {
	return []byte(fmt.Sprintf(
		`<SearchTransactions xmlns="DHPO"><login>%s</login><pwd>%s</pwd><direction>%s</direction>`+
			`<callerLicense>%s</callerLicense><ePartner>%s</ePartner><transactionID>%s</transactionID>`+
			`<status>%s</status><dateFrom>%s</dateFrom><dateTo>%s</dateTo>`+
			`<minRecordCount>%d</minRecordCount><maxRecordCount>%d</maxRecordCount></SearchTransactions>`,
		xmlEscape(params.Login), xmlEscape(params.Password), xmlEscape(params.Direction),
		xmlEscape(params.CallerLicense), xmlEscape(params.EPartner), xmlEscape(params.TransactionID),
		xmlEscape(params.Status), params.DateFrom.UTC().Format(time.RFC3339), params.DateTo.UTC().Format(time.RFC3339),
		params.MinRecordCount, params.MaxRecordCount))
}

// RenderDownloadTransactionFile builds the inner XML for
// DownloadTransactionFile.
func RenderDownloadTransactionFile(login, password, fileID string) []byte {
	return []byte(fmt.Sprintf(
		`<DownloadTransactionFile xmlns="DHPO"><login>%s</login><pwd>%s</pwd><fileId>%s</fileId></DownloadTransactionFile>`,
		xmlEscape(login), xmlEscape(password), xmlEscape(fileID)))
}

// RenderSetTransactionDownloaded builds the inner XML for
// SetTransactionDownloaded.
func RenderSetTransactionDownloaded(login, password, fileID string) []byte {
	return []byte(fmt.Sprintf(
		`<SetTransactionDownloaded xmlns="DHPO"><login>%s</login><pwd>%s</pwd><fileId>%s</fileId></SetTransactionDownloaded>`,
		xmlEscape(login), xmlEscape(password), xmlEscape(fileID)))
}

func xmlEscape(s string) string {
	var buf []byte
	// encoding/xml doesn't export a string escaper; reuse its Encoder.
	w := &byteSliceWriter{buf: &buf}
	_ = xml.EscapeText(w, []byte(s))
	return string(buf)
}

type byteSliceWriter struct{ buf *[]byte }

func (w *byteSliceWriter) Write(p []byte) (int, error) {
	*w.buf = append(*w.buf, p...)
	return len(p), nil
}
