// Package sessionapi exposes the per-tab identity session layer over HTTP.
//
// A client opens a tab with POST /tabs and drives its login flow with the
// returned tab id:
//
//	POST   /tabs
//	DELETE /tabs/{tabID}
//	GET    /tabs/{tabID}/flow
//	POST   /tabs/{tabID}/login              {"email","password"}
//	POST   /tabs/{tabID}/mfa/choice         {"choice":"enable"|"skip"}
//	POST   /tabs/{tabID}/mfa/setup
//	POST   /tabs/{tabID}/mfa/setup/verify   {"code"}
//	POST   /tabs/{tabID}/mfa/verify         {"code"}
//	POST   /tabs/{tabID}/back
//	POST   /tabs/{tabID}/signout
//	GET    /tabs/{tabID}/session
//	POST   /tabs/{tabID}/session/extend
//	POST   /tabs/{tabID}/activity           {"signal":"pointer"|"keyboard"|"scroll"|"touch"}
//	POST   /tabs/{tabID}/visibility         {"visible"}
//	POST   /tabs/{tabID}/connectivity       {"online"}
//	POST   /tabs/{tabID}/diagnostics/console {"source"}
//	GET    /tabs/{tabID}/posture
//
// Failures are rendered as {"code","error","state","retryable"} with the status from
// errors.MapErrorCodeToHTTPStatus. Rate limited responses carry Retry-After.
package sessionapi
