// Package loginflow drives the sign-in state machine of a single tab.
//
// An Orchestrator moves a login attempt through these states:
//
//	login_form -> password_checking -> no_mfa_grant -> granted
//	                                -> optional_mfa_prompt -> no_mfa_grant | mandatory_mfa_setup
//	                                -> mandatory_mfa_setup -> granted
//	                                -> mfa_challenge -> granted
//
// Any non-terminal state can be abandoned with Back, which returns to the
// login form and discards responses still in flight. Only one provider call
// runs at a time; a second operation meanwhile fails with
// VERIFICATION_IN_PROGRESS.
//
// # Basic Usage
//
//	flow, err := loginflow.NewOrchestrator(loginflow.Dependencies{
//		Provider:    idp,
//		Preferences: preference.NewService(repo, nil),
//		Sessions:    sessions.NewManager(sessions.DefaultThresholds()),
//		Bus:         bus,
//	})
//
//	res, err := flow.Submit(ctx, "user@example.com", "secret")
//	switch res.State {
//	case loginflow.StateOptionalMFAPrompt:
//		res, err = flow.ChooseMFA(ctx, loginflow.ChoiceSkip)
//	case loginflow.StateMFAChallenge:
//		res, err = flow.VerifyChallenge(ctx, code)
//	}
//
// Errors are *errors.Error values from pkg/errors; the returned Result always
// carries the state the flow ended in.
//
// Session expiry and suspicious activity arrive through the events bus.
// Expiry signs the subject out and returns to the login form with a notice.
// Suspicious activity locks the flow until SignOut.
package loginflow
