package transport

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// DefaultDataPort is the data-plane port assumed when a destination URI
// names a data host without a port.
const DefaultDataPort = 19522

// URI is a parsed destination descriptor. The canonical form is
//
//	ejfat[s]://[token@]cphost:cpport/lb/<id>[?data=host[:port]][&sync=host:port]
//
// where the scheme picks the driver, the authority addresses the control
// plane, and the data/sync query parameters address the data plane. Other
// schemes (such as loopback:name?capacity=N) carry a driver-specific
// resource name plus query parameters.
type URI struct {
	Scheme      string
	Token       string
	ControlAddr string // control plane host:port
	LBID        string // load balancer instance id
	DataAddr    string // data plane host:port
	SyncAddr    string // sync channel host:port
	Name        string // driver resource name for non-ejfat schemes
	Params      url.Values
}

// ParseURI parses a destination descriptor.
func ParseURI(raw string) (URI, error) {
	if strings.TrimSpace(raw) == "" {
		return URI{}, errors.WrapInvalid(
			fmt.Errorf("empty destination URI"),
			"transport", "ParseURI", "validate input")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return URI{}, errors.WrapInvalid(err, "transport", "ParseURI", "parse URI")
	}
	if u.Scheme == "" {
		return URI{}, errors.WrapInvalid(
			fmt.Errorf("destination %q has no scheme", raw),
			"transport", "ParseURI", "validate scheme")
	}

	out := URI{
		Scheme: strings.ToLower(u.Scheme),
		Params: u.Query(),
	}

	if out.Scheme != "ejfat" && out.Scheme != "ejfats" {
		// Driver-specific resource name: loopback:demo and
		// loopback://demo are equivalent.
		switch {
		case u.Opaque != "":
			out.Name = u.Opaque
		case u.Host != "":
			out.Name = u.Host
		default:
			out.Name = strings.TrimPrefix(u.Path, "/")
		}
		return out, nil
	}

	if u.Host == "" {
		return URI{}, errors.WrapInvalid(
			fmt.Errorf("%s URI %q has no control plane address", out.Scheme, raw),
			"transport", "ParseURI", "validate authority")
	}
	out.ControlAddr = u.Host
	if u.User != nil {
		out.Token = u.User.Username()
	}
	if rest, ok := strings.CutPrefix(u.Path, "/lb/"); ok && rest != "" {
		out.LBID = rest
	}

	if data := out.Params.Get("data"); data != "" {
		out.DataAddr, err = normalizeHostPort(data, DefaultDataPort)
		if err != nil {
			return URI{}, errors.WrapInvalid(err, "transport", "ParseURI", "parse data address")
		}
	}
	if sync := out.Params.Get("sync"); sync != "" {
		if _, _, err := net.SplitHostPort(sync); err != nil {
			return URI{}, errors.WrapInvalid(
				fmt.Errorf("sync address %q needs an explicit port", sync),
				"transport", "ParseURI", "parse sync address")
		}
		out.SyncAddr = sync
	}
	return out, nil
}

// normalizeHostPort fills in defaultPort when addr carries only a host.
func normalizeHostPort(addr string, defaultPort int) (string, error) {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr, nil
	}
	withDefault := net.JoinHostPort(strings.Trim(addr, "[]"), fmt.Sprintf("%d", defaultPort))
	if _, _, err := net.SplitHostPort(withDefault); err != nil {
		return "", fmt.Errorf("address %q is not host or host:port", addr)
	}
	return withDefault, nil
}

// UseTLS reports whether the control plane connection should use TLS.
func (u URI) UseTLS() bool {
	return u.Scheme == "ejfats"
}

// String renders the URI with the token redacted, safe for logs.
func (u URI) String() string {
	if u.Scheme != "ejfat" && u.Scheme != "ejfats" {
		s := u.Scheme + ":" + u.Name
		if len(u.Params) > 0 {
			s += "?" + u.Params.Encode()
		}
		return s
	}
	var b strings.Builder
	b.WriteString(u.Scheme)
	b.WriteString("://")
	if u.Token != "" {
		b.WriteString("***@")
	}
	b.WriteString(u.ControlAddr)
	if u.LBID != "" {
		b.WriteString("/lb/")
		b.WriteString(u.LBID)
	}
	var q []string
	if u.DataAddr != "" {
		q = append(q, "data="+u.DataAddr)
	}
	if u.SyncAddr != "" {
		q = append(q, "sync="+u.SyncAddr)
	}
	if len(q) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(q, "&"))
	}
	return b.String()
}
