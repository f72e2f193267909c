// Package gcp holds the pieces shared by every service wrapper: error
// classification, default project and location resolution, the client cache,
// and the option set each wrapper constructor accepts.
//
// Authentication always uses Application Default Credentials unless explicit
// client options are supplied. Wrappers never implement custom auth logic.
package gcp
