// Package oauth implements the authorization code flow and lazy token
// refresh for OAuth backed apps. Refreshed tokens are encrypted and
// persisted through the app update callback before they are handed out.
package oauth
