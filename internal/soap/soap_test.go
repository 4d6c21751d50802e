package soap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildEnvelopeWrapsBothVersions(t *testing.T) {
	inner := []byte(`<Foo xmlns="DHPO"><bar/></Foo>`)

	env11, err := BuildEnvelope(Version11, inner)
	require.NoError(t, err)
	require.Contains(t, string(env11), "soap:Envelope")
	require.Contains(t, string(env11), "<bar/>")

	env12, err := BuildEnvelope(Version12, inner)
	require.NoError(t, err)
	require.Contains(t, string(env12), "soap12:Envelope")
}

func TestContentTypeAndSOAPActionHeaderByVersion(t *testing.T) {
	require.Equal(t, "text/xml; charset=utf-8", ContentType(Version11, "GetNewTransactions"))
	require.Contains(t, ContentType(Version12, "GetNewTransactions"), `action="GetNewTransactions"`)

	name, value := SOAPActionHeader(Version11, "GetNewTransactions")
	require.Equal(t, "SOAPAction", name)
	require.Equal(t, `"GetNewTransactions"`, value)

	name, value = SOAPActionHeader(Version12, "GetNewTransactions")
	require.Empty(t, name)
	require.Empty(t, value)
}

func TestParseFileListToleratesMissingOptionalAttributes(t *testing.T) {
	body := []byte(`<Files>
		<File FileID="F1" FileName="a.xml" SenderID="S1" ReceiverID="R1" TransactionDate="2026-01-15T10:00:00Z" RecordCount="3" IsDownloaded="true"/>
		<File FileID="F2" FileName="b.xml" SenderID="S1" ReceiverID="R1" RecordCount="1"/>
	</Files>`)

	rows, err := ParseFileList(body)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "F1", rows[0].FileID)
	require.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), rows[0].TransactionDate)
	require.NotNil(t, rows[0].IsDownloaded)
	require.True(t, *rows[0].IsDownloaded)

	require.Equal(t, "F2", rows[1].FileID)
	require.True(t, rows[1].TransactionDate.IsZero())
	require.Nil(t, rows[1].IsDownloaded)
}

func TestParseDownloadResponseDecodesBase64Payload(t *testing.T) {
	body := []byte(`<DownloadTransactionFileResult><Code>0</Code><FileName>claim.xml</FileName><File>aGVsbG8=</File></DownloadTransactionFileResult>`)

	result, err := ParseDownloadResponse(body)
	require.NoError(t, err)
	require.Equal(t, 0, result.Code)
	require.Equal(t, "claim.xml", result.FileName)
	require.Equal(t, "hello", string(result.Bytes))
}

func TestParseAckResponse(t *testing.T) {
	body := []byte(`<SetTransactionDownloadedResult><Code>0</Code><ErrorMessage></ErrorMessage></SetTransactionDownloadedResult>`)

	result, err := ParseAckResponse(body)
	require.NoError(t, err)
	require.Equal(t, 0, result.Code)
	require.Empty(t, result.ErrorMessage)
}

func TestExtractResultCodeFindsCodeAtAnyNestingDepth(t *testing.T) {
	nested := []byte(`<soap:Envelope><soap:Body><DownloadTransactionFileResponse><DownloadTransactionFileResult><Code>-4</Code></DownloadTransactionFileResult></DownloadTransactionFileResponse></soap:Body></soap:Envelope>`)
	code, ok := extractResultCode(nested)
	require.True(t, ok)
	require.Equal(t, -4, code)

	shallow := []byte(`<Code>0</Code>`)
	code, ok = extractResultCode(shallow)
	require.True(t, ok)
	require.Equal(t, 0, code)

	absent := []byte(`<Files><File FileID="F1"/></Files>`)
	_, ok = extractResultCode(absent)
	require.False(t, ok)
}

func TestRenderOperationsEscapeCredentials(t *testing.T) {
	inner := RenderGetNewTransactions(`a&b`, `p<>"`)
	require.Contains(t, string(inner), "a&amp;b")
	require.Contains(t, string(inner), "p&lt;&gt;&#34;")
}
