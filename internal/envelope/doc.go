// Package envelope decodes inbound push frames and resolves them into
// notification requests.
//
// An Envelope may carry two independent notification shapes:
//
//   - direct: a ready-made {title, content} pair under "message"
//   - keyed: an ordered list of {key, value} entries under "dataPayload",
//     consulted only when targetAppID equals KeyedSelector
//
// Both shapes may be present in one envelope; each produces its own Request.
package envelope
