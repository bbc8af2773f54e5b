package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on outbound requests.
const AccessTokenHeaderName = "access_token"

// StatusDeleted is the only delete status the remote API uses to confirm
// that a document or case is gone.
const StatusDeleted = 204
