/*
Package handshakesdk holds the wire types of the applicant handshake API.

The server encodes every response with these types and applicants can decode
them without depending on the service internals.

# Hypermedia

Every successful response carries a links array. Applicants navigate with
the link whose rel is "next" instead of hard-coding routes:

	var resp handshakesdk.InitResponse
	_ = json.Unmarshal(body, &resp)
	next, ok := resp.Next()

# Errors

Failures are written as

	{"error": "StageMismatch", "error_description": "...", "links": [...]}

ParseError turns such a body back into an *Error whose Kind can be compared
against the Kind constants.
*/
package handshakesdk
