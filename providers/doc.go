// Package providers implements federated login against upstream identity
// providers.
//
// Each supported provider registers a Kind and implements the Provider
// interface: Delegate builds the upstream authorization redirect, and
// Authenticate completes the callback by exchanging the code and fetching the
// remote profile. Providers never touch local storage; callers reconcile the
// returned Profile against their own identity records.
//
// Upstream rejections surface as *ThirdPartyError so callers can relay the
// provider's error code. Configuration problems surface as ErrMisconfigured.
package providers
