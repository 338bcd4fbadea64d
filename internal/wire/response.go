package wire

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
)

const corsHeaders = "Access-Control-Allow-Origin: *\r\n" +
	"Access-Control-Allow-Methods: GET, POST, DELETE, OPTIONS\r\n" +
	"Access-Control-Allow-Headers: Content-Type, Origin, Accept\r\n"

// EncodeResponse renders a complete response message. A 204 is rendered
// as a preflight answer: no Content-Type, a Max-Age, and no body bytes.
// Every other status is sent as JSON with its Content-Length.
func EncodeResponse(status int, body []byte) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status))

	if status == http.StatusNoContent {
		b.WriteString(corsHeaders)
		b.WriteString("Access-Control-Max-Age: 86400\r\n")
		b.WriteString("Content-Length: 0\r\n\r\n")
		return b.Bytes()
	}

	b.WriteString("Content-Type: application/json\r\n")
	b.WriteString(corsHeaders)
	b.WriteString("Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n")
	b.Write(body)
	return b.Bytes()
}
