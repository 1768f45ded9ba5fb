package network

import (
	"context"
	"fmt"
	"net"
	"runtime"

	"github.com/disknet-io/disknet/pkg/command"
	"github.com/disknet-io/disknet/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"
)

// Host is one emulated machine: a named network namespace with an address
// on the emulated subnet. Commands for the host run through its executor.
type Host struct {
	Name string
	Addr net.IP

	executor command.Executor
}

func (h *Host) Executor() command.Executor {
	return h.executor
}

// Topology wires emulated hosts together with veth pairs, one pair per
// link. There is no switch or router in between; links are point-to-point.
// Addresses are handed out sequentially from the configured subnet, so the
// subnet must leave its final octet free (a /24 or wider).
type Topology struct {
	config     types.NetworkConfig
	subnet     *net.IPNet
	hosts      map[string]*Host
	namespaces []string
	hostCount  int
}

func NewTopology(config types.NetworkConfig) (*Topology, error) {
	_, subnet, err := net.ParseCIDR(config.Subnet)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid subnet %s", config.Subnet)
	}

	return &Topology{
		config: config,
		subnet: subnet,
		hosts:  map[string]*Host{},
	}, nil
}

// AddHost creates a named network namespace for the host and brings its
// loopback up. The host's address attaches to its end of each link.
func (t *Topology) AddHost(name string) (*Host, error) {
	if _, ok := t.hosts[name]; ok {
		return nil, errors.Errorf("host %s already exists", name)
	}

	// Namespace switches affect the calling OS thread only, so pin it for
	// the duration.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostNS, err := netns.Get()
	if err != nil {
		return nil, err
	}
	defer hostNS.Close()

	// NewNamed moves the calling thread into the new namespace; bring the
	// loopback up there before switching back.
	newNS, err := netns.NewNamed(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to create namespace %s", name)
	}
	defer newNS.Close()

	if lo, err := netlink.LinkByName("lo"); err == nil {
		if err := netlink.LinkSetUp(lo); err != nil {
			log.Error().Err(err).Str("host", name).Msg("failed to bring up loopback")
		}
	}

	if err := netns.Set(hostNS); err != nil {
		return nil, err
	}

	host := &Host{
		Name:     name,
		Addr:     t.nextAddr(),
		executor: command.NewNamespaceExecutor(name),
	}
	t.hosts[name] = host
	t.namespaces = append(t.namespaces, name)

	log.Info().Str("host", name).Str("addr", host.Addr.String()).Msg("host namespace created")
	return host, nil
}

// AddLink connects two hosts with a veth pair, one end in each namespace,
// each carrying its host's address. Bandwidth shaping, when configured,
// is applied on both ends.
func (t *Topology) AddLink(ctx context.Context, a, b *Host) error {
	suffix := uuid.New().String()[:4]
	vethA := fmt.Sprintf("v%s_%s", a.Name, suffix)
	vethB := fmt.Sprintf("v%s_%s", b.Name, suffix)

	link := &netlink.Veth{
		LinkAttrs: netlink.LinkAttrs{Name: vethA},
		PeerName:  vethB,
	}
	if err := netlink.LinkAdd(link); err != nil {
		return errors.Wrapf(err, "unable to create veth pair %s/%s", vethA, vethB)
	}

	if err := t.attachEnd(vethA, a); err != nil {
		return err
	}
	if err := t.attachEnd(vethB, b); err != nil {
		return err
	}

	if t.config.LinkBandwidthMbps > 0 {
		for host, iface := range map[*Host]string{a: vethA, b: vethB} {
			if err := t.shapeLink(ctx, host, iface); err != nil {
				return err
			}
		}
	}

	log.Info().Str("a", a.Name).Str("b", b.Name).Int("bw_mbps", t.config.LinkBandwidthMbps).Msg("link established")
	return nil
}

// attachEnd moves one side of a veth pair into the host's namespace,
// assigns the host's address there and brings the interface up.
func (t *Topology) attachEnd(ifaceName string, h *Host) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hostNS, err := netns.Get()
	if err != nil {
		return err
	}
	defer hostNS.Close()

	targetNS, err := netns.GetFromName(h.Name)
	if err != nil {
		return errors.Wrapf(err, "unable to open namespace %s", h.Name)
	}
	defer targetNS.Close()

	iface, err := netlink.LinkByName(ifaceName)
	if err != nil {
		return err
	}
	if err := netlink.LinkSetNsFd(iface, int(targetNS)); err != nil {
		return err
	}

	if err := netns.Set(targetNS); err != nil {
		return err
	}
	defer netns.Set(hostNS)

	iface, err = netlink.LinkByName(ifaceName)
	if err != nil {
		return err
	}

	prefixLen, _ := t.subnet.Mask.Size()
	addr, err := netlink.ParseAddr(fmt.Sprintf("%s/%d", h.Addr, prefixLen))
	if err != nil {
		return err
	}
	if err := netlink.AddrAdd(iface, addr); err != nil {
		return err
	}

	return netlink.LinkSetUp(iface)
}

// shapeLink caps the interface with a token bucket filter so transfers see
// the configured link speed instead of raw veth throughput.
func (t *Topology) shapeLink(ctx context.Context, h *Host, ifaceName string) error {
	cmd := fmt.Sprintf("tc qdisc add dev %s root tbf rate %dmbit burst 32kbit latency 400ms",
		ifaceName, t.config.LinkBandwidthMbps)

	res, err := h.Executor().Run(ctx, cmd)
	if err != nil {
		return err
	}
	if !res.Ok() {
		return errors.Errorf("unable to shape %s on %s: %s", ifaceName, h.Name, res.Stderr)
	}

	return nil
}

func (t *Topology) Host(name string) (*Host, bool) {
	host, ok := t.hosts[name]
	return host, ok
}

// Teardown deletes every namespace the topology created, taking veth ends
// and storage mounts inside them down as well.
func (t *Topology) Teardown() {
	for _, name := range t.namespaces {
		if err := netns.DeleteNamed(name); err != nil {
			log.Error().Err(err).Str("host", name).Msg("failed to delete namespace")
			continue
		}
		log.Info().Str("host", name).Msg("host namespace deleted")
	}
	t.namespaces = nil
	t.hosts = map[string]*Host{}
}

// nextAddr hands out .1, .2, ... from the subnet base.
func (t *Topology) nextAddr() net.IP {
	t.hostCount++
	addr := make(net.IP, len(t.subnet.IP))
	copy(addr, t.subnet.IP)
	addr[len(addr)-1] += byte(t.hostCount)
	return addr
}
