// Package collab ships the contract-only collaborator adapters: small
// in-memory or file-backed implementations of the Mail, Calendar,
// Weather, WebSearch, Speech, and SecretStore ports. They keep the
// assistant fully operable without external accounts; real providers
// replace them adapter by adapter.
package collab
