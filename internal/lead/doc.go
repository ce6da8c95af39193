// Package lead defines the shape of an inbound lead-form submission and turns
// untyped request data into a validated Lead.
//
// A Lead only exists after validation has passed: name and email are present
// and within bounds, optional fields are either absent (nil) or within their
// limits. Validation always inspects every field and reports all violations
// at once through *ValidationError.
package lead
