// Package caddy renders routes into Caddyfile syntax and keeps the running
// caddy daemon in sync with them.
package caddy

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/MrSnakeDoc/devhost/internal/domain"
)

const header = "# Managed by devhost. Edits are overwritten.\n"

// SiteExt is the extension of per-domain files under the sites directory.
const SiteExt = ".caddy"

// Host is the fully qualified name a route is served under.
func Host(r domain.Route, tld string) string {
	tld = strings.Trim(tld, ".")
	if tld == "" {
		return r.Domain
	}
	return r.Domain + "." + tld
}

func SiteFileName(r domain.Route, tld string) string {
	return Host(r, tld) + SiteExt
}

// MainConfig imports every site file and answers unknown subdomains of
// the TLD with a 404.
func MainConfig(tld, sitesDir string) string {
	tld = strings.Trim(tld, ".")
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("{\n\tlocal_certs\n}\n\n")
	fmt.Fprintf(&b, "import %s\n\n", quote(sitesDir+"/*"+SiteExt))
	fmt.Fprintf(&b, "http://*.%s, https://*.%s {\n", tld, tld)
	b.WriteString("\ttls internal\n")
	fmt.Fprintf(&b, "\trespond %s 404\n", quote("No devhost domain is configured for {host}"))
	b.WriteString("}\n")
	return b.String()
}

// SiteConfig renders one route. SSL routes get an HTTP and an HTTPS block.
func SiteConfig(r domain.Route, tld string) string {
	host := Host(r, tld)
	var b strings.Builder
	b.WriteString(header)
	writeBlock(&b, "http://"+host, r, host, false)
	if r.SSL {
		b.WriteString("\n")
		writeBlock(&b, "https://"+host, r, host, true)
	}
	return b.String()
}

func writeBlock(b *strings.Builder, addr string, r domain.Route, host string, tls bool) {
	fmt.Fprintf(b, "%s {\n", addr)
	if tls {
		b.WriteString("\ttls internal\n")
	}

	switch r.Kind {
	case domain.RouteStatic:
		fmt.Fprintf(b, "\troot * %s\n", quote(r.Path))
		if r.Browse {
			b.WriteString("\tfile_server browse\n")
		} else {
			b.WriteString("\tfile_server\n")
		}
	default:
		fmt.Fprintf(b, "\treverse_proxy 127.0.0.1:%d\n", r.Port)
		for _, code := range []int{502, 503, 504} {
			fmt.Fprintf(b, "\n\thandle_errors %d {\n", code)
			b.WriteString("\t\theader Content-Type \"text/html; charset=utf-8\"\n")
			fmt.Fprintf(b, "\t\trespond `%s` %d\n", errorPage(host, r.Port, code), code)
			b.WriteString("\t}\n")
		}
	}
	b.WriteString("}\n")
}

func errorPage(host string, port, code int) string {
	var reason string
	switch code {
	case 502:
		reason = fmt.Sprintf("Nothing is answering on port %d. Start the instance behind %s and reload.", port, host)
	case 503:
		reason = fmt.Sprintf("The service on port %d is unavailable. It may still be starting.", port)
	default:
		reason = fmt.Sprintf("The service on port %d did not respond in time.", port)
	}
	return fmt.Sprintf(
		`<!doctype html><html><head><title>%d %s</title></head><body style="font-family:sans-serif;margin:3em">`+
			`<h1>%s is down</h1><p>%s</p><p><small>devhost &middot; %d</small></p></body></html>`,
		code, host, host, reason, code)
}

// quote wraps a token in double quotes when Caddyfile syntax needs it.
func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'`{}#\n") {
		return s
	}
	return strconv.Quote(s)
}
