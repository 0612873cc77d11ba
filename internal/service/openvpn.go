package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Strob0t/VPNForge/internal/config"
	"github.com/Strob0t/VPNForge/internal/domain/tenant"
	"github.com/Strob0t/VPNForge/internal/port/containerruntime"
)

// Paths inside the OpenVPN image.
const (
	ovpnDataDir    = "/etc/openvpn"
	ovpnServerConf = ovpnDataDir + "/openvpn.conf"
)

// Environment passed to easyrsa so it never prompts.
const (
	envEasyRSABatch   = "EASYRSA_BATCH=1"
	envEasyRSAPassOut = "EASYRSA_PASSOUT"
)

// pemCertMarker is present in every exported profile with a client certificate.
const pemCertMarker = "-----BEGIN CERTIFICATE-----"

// oneShot describes a removed-on-exit container over a tenant's data volume.
func oneShot(image, volume string, cmd []string, env ...string) containerruntime.ContainerSpec {
	return containerruntime.ContainerSpec{
		Image:        image,
		Volume:       volume,
		VolumeTarget: ovpnDataDir,
		Env:          append([]string{envEasyRSABatch}, env...),
		Cmd:          cmd,
	}
}

// serverSpec describes the long-running server container of a tenant.
func serverSpec(image string, names tenant.Resources, listenPort, containerPort int) containerruntime.ContainerSpec {
	return containerruntime.ContainerSpec{
		Name:         names.Container,
		Image:        image,
		Network:      names.Network,
		Volume:       names.Volume,
		VolumeTarget: ovpnDataDir,
		PublishUDP:   map[int]int{listenPort: containerPort},
		CapAdd:       []string{"NET_ADMIN"},
		Devices:      []string{"/dev/net/tun"},
		Sysctls:      map[string]string{"net.ipv4.ip_forward": "1"},
		Restart:      "unless-stopped",
	}
}

// genConfigCmd writes the server configuration for udp://publicIP:port
// handing out addresses from subnet.
func genConfigCmd(cfg config.OpenVPN, publicIP string, port int, subnet string) []string {
	cmd := []string{
		"ovpn_genconfig",
		"-u", fmt.Sprintf("udp://%s:%d", publicIP, port),
		"-s", subnet,
	}
	if cfg.Cipher != "" {
		cmd = append(cmd, "-C", cfg.Cipher)
	}
	if cfg.Auth != "" {
		cmd = append(cmd, "-a", cfg.Auth)
	}
	for _, dns := range cfg.DNS {
		cmd = append(cmd, "-n", dns)
	}
	return cmd
}

// initPKICmd creates the tenant CA without a key passphrase.
func initPKICmd() []string {
	return []string{"ovpn_initpki", "nopass"}
}

// serverDirectives lists the lines every server config must contain on
// top of what ovpn_genconfig writes.
func serverDirectives(cfg config.OpenVPN, statusPath string) []string {
	interval := cfg.StatusInterval
	if interval <= 0 {
		interval = 10
	}
	lines := []string{
		"status " + statusPath + " " + strconv.Itoa(interval),
		"status-version 2",
	}
	for _, p := range cfg.Push {
		lines = append(lines, fmt.Sprintf("push %q", p))
	}
	return lines
}

// appendLineCmd appends line to file unless an identical line is present.
// Both values are positional parameters of the script, never part of it.
func appendLineCmd(line, file string) []string {
	return []string{"sh", "-c", `grep -qxF -- "$1" "$2" || printf '%s\n' "$1" >> "$2"`, "sh", line, file}
}

// NAT rule operations understood by iptables.
const (
	natCheck  = "-C"
	natAppend = "-A"
	natDelete = "-D"
)

// natRuleCmd builds the MASQUERADE rule command for subnet leaving via iface.
func natRuleCmd(op, subnet, iface string) []string {
	return []string{"iptables", "-t", "nat", op, "POSTROUTING", "-s", subnet, "-o", iface, "-j", "MASQUERADE"}
}

// buildClientCmd issues a client certificate. With a passphrase the key is
// encrypted with the value of EASYRSA_PASSOUT from the environment.
func buildClientCmd(username string, withPassphrase bool) []string {
	if withPassphrase {
		return []string{"easyrsa", "--passout=env:" + envEasyRSAPassOut, "build-client-full", username}
	}
	return []string{"easyrsa", "build-client-full", username, "nopass"}
}

// revokeClientCmd revokes a client certificate, regenerates the CRL and
// removes the client's key material.
func revokeClientCmd(username string) []string {
	return []string{"ovpn_revokeclient", username, "remove"}
}

// getClientCmd prints the inline client profile.
func getClientCmd(username string) []string {
	return []string{"ovpn_getclient", username}
}

// hasCertificate reports whether profile carries a PEM certificate.
func hasCertificate(profile string) bool {
	return strings.Contains(profile, pemCertMarker)
}
