package telephony

import "encoding/xml"

// TwiML response rendering. The dispatcher answers webhook deliveries with
// one of these instruction documents.

type Response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type enqueueVerb struct {
	XMLName xml.Name `xml:"Enqueue"`
	Name    string   `xml:",chardata"`
}

type dialVerb struct {
	XMLName xml.Name `xml:"Dial"`
	Number  string   `xml:",chardata"`
}

type playVerb struct {
	XMLName xml.Name `xml:"Play"`
	Loop    int      `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

type redirectVerb struct {
	XMLName xml.Name `xml:"Redirect"`
	URL     string   `xml:",chardata"`
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

type rejectVerb struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

func Say(text string) Response {
	return Response{Verbs: []any{sayVerb{Text: text}}}
}

// Enqueue greets the caller and parks the provider leg in the named queue.
func Enqueue(queueName, greeting string) Response {
	var verbs []any
	if greeting != "" {
		verbs = append(verbs, sayVerb{Text: greeting})
	}
	verbs = append(verbs, enqueueVerb{Name: queueName})
	return Response{Verbs: verbs}
}

func Dial(endpoint string) Response {
	return Response{Verbs: []any{dialVerb{Number: endpoint}}}
}

// HoldMusic loops the configured audio; with no URL it falls back to a spoken
// notice and a redirect-free wait.
func HoldMusic(musicURL string) Response {
	if musicURL == "" {
		return Response{Verbs: []any{sayVerb{Text: "Please hold."}}}
	}
	return Response{Verbs: []any{playVerb{Loop: 0, URL: musicURL}}}
}

func Redirect(url string) Response {
	return Response{Verbs: []any{redirectVerb{URL: url}}}
}

func Hangup() Response {
	return Response{Verbs: []any{hangupVerb{}}}
}

// Reject refuses the call before it connects. Used when a queue is full and
// has no voicemail overflow.
func Reject(reason string) Response {
	return Response{Verbs: []any{rejectVerb{Reason: reason}}}
}

// Ack is the empty response: receipt acknowledged, no instruction.
func Ack() Response { return Response{} }

// Render serializes the document with the XML declaration Twilio expects.
func Render(r Response) []byte {
	body, err := xml.Marshal(r)
	if err != nil {
		// The verb structs are all statically marshalable.
		panic(err)
	}
	return append([]byte(xml.Header), body...)
}
