package ctxkey

// Keys used to stash request-scoped values on the gin context.
const (
	RequestId                  = "request_id"
	KeyRequestBody             = "key_request_body"
	ClientRequestPayloadLogged = "client_request_payload_logged"

	Token          = "token"
	TokenId        = "token_id"
	Dialect        = "dialect"
	InboundAPIKey  = "inbound_api_key"
	RequestModel   = "request_model"
	SessionUUID    = "session_uuid"
	UsageId        = "usage_id"
	ProviderId     = "provider_id"
	EndpointId     = "endpoint_id"
	ProviderKeyId  = "provider_key_id"
	UpstreamModel  = "upstream_model"
	RequestStartAt = "request_start_at"
)
