package mqsession

// CONNACK reason codes.
// (https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901079)
const (
	connackSuccess                     byte = 0x00
	connackUnspecifiedError            byte = 0x80
	connackMalformedPacket             byte = 0x81
	connackProtocolError               byte = 0x82
	connackImplementationSpecificError byte = 0x83
	connackUnsupportedProtocolVersion  byte = 0x84
	connackClientIdentifierNotValid    byte = 0x85
	connackBadUserNameOrPassword       byte = 0x86
	connackNotAuthorized               byte = 0x87
	connackServerUnavailable           byte = 0x88
	connackServerBusy                  byte = 0x89
	connackBanned                      byte = 0x8A
	connackBadAuthenticationMethod     byte = 0x8C
	connackTopicNameInvalid            byte = 0x90
	connackPacketTooLarge              byte = 0x95
	connackQuotaExceeded               byte = 0x97
	connackPayloadFormatInvalid        byte = 0x99
	connackRetainNotSupported          byte = 0x9A
	connackQoSNotSupported             byte = 0x9B
	connackUseAnotherServer            byte = 0x9C
	connackServerMoved                 byte = 0x9D
	connackConnectionRateExceeded      byte = 0x9F
)

// AUTH reason codes.
// (https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901220)
const (
	authContinueAuthentication byte = 0x18
	authReauthenticate         byte = 0x19
)

// DISCONNECT reason codes.
// (https://docs.oasis-open.org/mqtt/mqtt/v5.0/os/mqtt-v5.0-os.html#_Toc3901208)
const (
	disconnectNormalDisconnection                 byte = 0x00
	disconnectMalformedPacket                     byte = 0x81
	disconnectProtocolError                       byte = 0x82
	disconnectNotAuthorized                       byte = 0x87
	disconnectServerBusy                          byte = 0x89
	disconnectSessionTakenOver                    byte = 0x8E
	disconnectTopicFilterInvalid                  byte = 0x8F
	disconnectTopicNameInvalid                    byte = 0x90
	disconnectTopicAliasInvalid                   byte = 0x94
	disconnectPacketTooLarge                      byte = 0x95
	disconnectQuotaExceeded                       byte = 0x97
	disconnectPayloadFormatInvalid                byte = 0x99
	disconnectRetainNotSupported                  byte = 0x9A
	disconnectQoSNotSupported                     byte = 0x9B
	disconnectUseAnotherServer                    byte = 0x9C
	disconnectServerMoved                         byte = 0x9D
	disconnectSharedSubscriptionsNotSupported     byte = 0x9E
	disconnectConnectionRateExceeded              byte = 0x9F
	disconnectSubscriptionIdentifiersNotSupported byte = 0xA1
	disconnectWildcardSubscriptionsNotSupported   byte = 0xA2
)

// retriableConnackCodes is the fixed set of CONNACK error reason codes the
// session client retries: not authorized, server unavailable, server busy,
// quota exceeded, and connection rate exceeded. Every other error code
// terminates the client.
var retriableConnackCodes = map[byte]struct{}{
	connackNotAuthorized:          {},
	connackServerUnavailable:      {},
	connackServerBusy:             {},
	connackQuotaExceeded:          {},
	connackConnectionRateExceeded: {},
}

// isFatalConnackCode reports whether a CONNACK error reason code terminates
// the session client instead of being retried.
func isFatalConnackCode(code byte) bool {
	if code < 0x80 {
		return false
	}
	_, retriable := retriableConnackCodes[code]
	return !retriable
}

// fatalDisconnectCodes holds the DISCONNECT reason codes after which a
// reconnection attempt cannot succeed or must not be made, such as protocol
// violations and session takeover.
var fatalDisconnectCodes = map[byte]struct{}{
	disconnectMalformedPacket:                     {},
	disconnectProtocolError:                       {},
	disconnectNotAuthorized:                       {},
	disconnectSessionTakenOver:                    {},
	disconnectTopicFilterInvalid:                  {},
	disconnectTopicNameInvalid:                    {},
	disconnectTopicAliasInvalid:                   {},
	disconnectPacketTooLarge:                      {},
	disconnectPayloadFormatInvalid:                {},
	disconnectRetainNotSupported:                  {},
	disconnectQoSNotSupported:                     {},
	disconnectUseAnotherServer:                    {},
	disconnectServerMoved:                         {},
	disconnectSharedSubscriptionsNotSupported:     {},
	disconnectSubscriptionIdentifiersNotSupported: {},
	disconnectWildcardSubscriptionsNotSupported:   {},
}

// isFatalDisconnectCode reports whether a server-sent DISCONNECT reason code
// terminates the session client instead of triggering reconnection.
func isFatalDisconnectCode(code byte) bool {
	_, fatal := fatalDisconnectCodes[code]
	return fatal
}
