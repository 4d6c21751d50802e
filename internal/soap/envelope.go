// Package soap implements the SOAP Gateway (spec.md §4.2): typed SOAP
// operations against the DHPO-style endpoint, with transport retry on
// transient conditions and a circuit breaker per facility endpoint.
package soap

import (
	"encoding/xml"
	"fmt"
)

// Version selects the SOAP envelope/content-type discipline.
type Version int

const (
	Version11 Version = iota
	Version12
)

// Operation names the four DHPO operations the gateway supports.
type Operation string

const (
	OpGetNewTransactions     Operation = "GetNewTransactions"
	OpSearchTransactions     Operation = "SearchTransactions"
	OpDownloadTransactionFile Operation = "DownloadTransactionFile"
	OpSetTransactionDownloaded Operation = "SetTransactionDownloaded"
)

// envelope11 mirrors a SOAP 1.1 envelope; Body carries pre-rendered
// inner XML so callers control the operation-specific payload shape.
type envelope11 struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	XMLNSSoap string `xml:"xmlns:soap,attr"`
	Body    envelopeBody `xml:"soap:Body"`
}

type envelope12 struct {
	XMLName xml.Name `xml:"soap12:Envelope"`
	XMLNSSoap12 string `xml:"xmlns:soap12,attr"`
	Body    envelopeBody `xml:"soap12:Body"`
}

type envelopeBody struct {
	InnerXML []byte `xml:",innerxml"`
}

// BuildEnvelope wraps the pre-rendered operation XML in a SOAP envelope
// of the requested version.
func BuildEnvelope(version Version, operationXML []byte) ([]byte, error) {
	switch version {
	case Version11:
		return xml.Marshal(envelope11{
			XMLNSSoap: "http://schemas.xmlsoap.org/soap/envelope/",
			Body:      envelopeBody{InnerXML: operationXML},
		})
	case Version12:
		return xml.Marshal(envelope12{
			XMLNSSoap12: "http://www.w3.org/2003/05/soap-envelope",
			Body:        envelopeBody{InnerXML: operationXML},
		})
	default:
		return nil, fmt.Errorf("unknown soap version %v", version)
	}
}

// ContentType returns the request Content-Type header for version,
// carrying the SOAPAction as the "action" parameter for 1.2 per
// spec.md §4.2's content-type discipline.
func ContentType(version Version, soapAction string) string {
	if version == Version12 {
		return fmt.Sprintf(`application/soap+xml; charset=utf-8; action="%s"`, soapAction)
	}
	return "text/xml; charset=utf-8"
}

// SOAPActionHeader returns the HTTP header name/value pair to set for a
// SOAP 1.1 request, or ("", "") for 1.2 (which folds action into
// Content-Type and sends no SOAPAction header at all).
func SOAPActionHeader(version Version, soapAction string) (name, value string) {
	if version == Version11 {
		return "SOAPAction", fmt.Sprintf(`"%s"`, soapAction)
	}
	return "", ""
}
