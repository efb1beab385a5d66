package scan

import (
	"encoding/binary"
	"net"
	"strconv"
)

func familyPayload(f Family, host string, port uint16) []byte {
	switch f {
	case FamilyHTTP:
		return []byte("HEAD / HTTP/1.0\r\nHost: " + net.JoinHostPort(host, strconv.Itoa(int(port))) + "\r\n\r\n")
	case FamilyRTSP:
		return []byte("OPTIONS rtsp://" + net.JoinHostPort(host, strconv.Itoa(int(port))) + "/ RTSP/1.0\r\nCSeq: 1\r\n\r\n")
	case FamilyRTMP:
		return rtmpHandshake()
	case FamilyBroker:
		return mqttConnect("lanscan")
	default:
		return nil
	}
}

func familyClassifier(f Family) ClassifyFunc {
	switch f {
	case FamilyHTTP:
		return func(resp Response) bool {
			return containsAny(resp.Text(), []string{"HTTP/", "200 OK"}, false)
		}
	case FamilyRTSP:
		return func(resp Response) bool {
			return containsAny(resp.Text(), []string{"RTSP/1.0"}, false)
		}
	case FamilyRTMP:
		return func(resp Response) bool {
			if len(resp.Data) > 0 && resp.Data[0] == rtmpVersion {
				return true
			}
			return containsAny(resp.Text(), []string{"RTMP"}, false)
		}
	case FamilySSDP:
		return func(resp Response) bool {
			return containsAny(resp.Text(), []string{"LOCATION:"}, true)
		}
	case FamilyMDNS:
		return func(resp Response) bool {
			return containsAny(resp.Text(), []string{"ANSWER:", mdnsQueryName}, false)
		}
	case FamilyBroker:
		return func(resp Response) bool {
			if len(resp.Data) >= 2 && resp.Data[0] == mqttCONNACK {
				return true
			}
			return containsAny(resp.Text(), []string{"mosquitto", "Connected"}, false)
		}
	case FamilyTCP:
		// A bare service is present when the connect succeeds and nothing is sent back.
		return func(resp Response) bool {
			return resp.Connected && len(resp.Data) == 0
		}
	case FamilyADB:
		return func(resp Response) bool {
			state := resp.Text()
			return state == ADBStateDevice || state == ADBStateUnauthorized
		}
	default:
		return func(resp Response) bool {
			return len(resp.Data) > 0
		}
	}
}

const (
	rtmpVersion       = 0x03
	rtmpHandshakeSize = 1536
	mqttCONNACK       = 0x20
)

// rtmpHandshake is C0 followed by a zeroed C1.
func rtmpHandshake() []byte {
	buf := make([]byte, 1+rtmpHandshakeSize)
	buf[0] = rtmpVersion
	return buf
}

// mqttConnect builds an MQTT 3.1.1 CONNECT packet with a clean session.
func mqttConnect(clientID string) []byte {
	var body []byte
	body = appendMQTTString(body, "MQTT")
	body = append(body, 0x04, 0x02)
	body = binary.BigEndian.AppendUint16(body, 10)
	body = appendMQTTString(body, clientID)

	packet := []byte{0x10}
	remaining := len(body)
	for {
		b := byte(remaining % 128)
		remaining /= 128
		if remaining > 0 {
			b |= 0x80
		}
		packet = append(packet, b)
		if remaining == 0 {
			break
		}
	}
	return append(packet, body...)
}

func appendMQTTString(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}
