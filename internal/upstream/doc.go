// Package upstream defines the error shape shared by every third-party model client.
//
// Chat and image clients report failures in different raw forms: HTTP status codes,
// JSON error envelopes, SDK errors, context deadlines. Each client converts them at its
// boundary into *Error so callers only ever inspect Kind and Message:
//
//	if upstream.KindOf(err) == upstream.KindBilling {
//	    // show the billing-specific notice
//	}
package upstream
