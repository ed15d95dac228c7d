// Package preference stores each subject's MFA preference: whether the
// optional prompt was shown and whether the subject opted in.
//
// PromptedOnce is set exactly once. Memory, file and PostgreSQL
// repositories are provided; NewRepository picks one by name.
package preference
