package topology

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"vkcluster/internal/respconn"
)

// ParseClusterSlots parses a CLUSTER SLOTS reply: an array of
// [start, end, [ip, port, id?, metadata?], replica..., ...] entries.
// originAddr supplies the responder's address for empty/NIL IP elements.
func ParseClusterSlots(reply *respconn.Reply, originAddr string, trackReplicas bool) (*NodeSet, error) {
	if reply == nil || reply.Type != respconn.TypeArray {
		return nil, fmt.Errorf("topology: CLUSTER SLOTS reply is not an array")
	}
	ns := newNodeSet()
	originHost, _ := splitHostPort(originAddr)

	for _, entry := range reply.Array {
		if entry == nil || entry.Type != respconn.TypeArray || len(entry.Array) < 3 {
			return nil, fmt.Errorf("topology: malformed CLUSTER SLOTS entry")
		}
		start, err := asInt(entry.Array[0])
		if err != nil {
			return nil, fmt.Errorf("topology: bad slot start: %w", err)
		}
		end, err := asInt(entry.Array[1])
		if err != nil {
			return nil, fmt.Errorf("topology: bad slot end: %w", err)
		}
		if start < 0 || end >= SlotCount || start > end {
			return nil, fmt.Errorf("topology: invalid slot range [%d,%d]", start, end)
		}

		primary, err := nodeFromSlotEntry(ns, entry.Array[2], originHost)
		if err != nil {
			return nil, err
		}
		primary.Role = RolePrimary
		primary.Slots = append(primary.Slots, SlotRange{Start: start, End: end})

		if trackReplicas {
			for _, rep := range entry.Array[3:] {
				replica, err := nodeFromSlotEntry(ns, rep, originHost)
				if err != nil {
					return nil, err
				}
				if replica.Role == RoleUnknown {
					replica.Role = RoleReplica
				}
				primary.Replicas = append(primary.Replicas, replica)
			}
		}
	}
	return ns, nil
}

// nodeFromSlotEntry builds/looks-up a Node from one [ip, port, id?, ...]
// inner array of a CLUSTER SLOTS reply.
func nodeFromSlotEntry(ns *NodeSet, entry *respconn.Reply, originHost string) (*Node, error) {
	if entry == nil || entry.Type != respconn.TypeArray || len(entry.Array) < 2 {
		return nil, fmt.Errorf("topology: malformed node entry in CLUSTER SLOTS reply")
	}
	ip, err := asString(entry.Array[0])
	if err != nil {
		return nil, err
	}
	if ip == "" {
		ip = originHost
	}
	portNum, err := asInt(entry.Array[1])
	if err != nil {
		return nil, fmt.Errorf("topology: bad port: %w", err)
	}
	if portNum < 1 || portNum > 65535 {
		return nil, fmt.Errorf("topology: port %d out of range", portNum)
	}
	addr := net.JoinHostPort(ip, strconv.Itoa(portNum))
	n := ns.getOrCreate(addr, ip, portNum)
	if len(entry.Array) >= 3 {
		if id, err := asString(entry.Array[2]); err == nil && id != "" {
			n.ID = id
		}
	}
	return n, nil
}

// ParseClusterNodes parses a CLUSTER NODES reply: newline-separated lines
// of space-separated fields (spec.md §4.C).
func ParseClusterNodes(text string, originAddr string, trackReplicas bool) (*NodeSet, error) {
	ns := newNodeSet()
	originHost, _ := splitHostPort(originAddr)
	replicasByPrimary := make(map[string][]*Node)
	sawAnySlots := false

	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 8 {
			return nil, fmt.Errorf("topology: malformed CLUSTER NODES line: %q", line)
		}

		id := fields[0]
		rawAddr := fields[1]
		flags := strings.Split(fields[2], ",")
		primaryID := fields[3]

		if hasFlag(flags, "noaddr") {
			continue
		}
		isMaster := hasFlag(flags, "master")
		isSlave := hasFlag(flags, "slave")
		if !isMaster && !isSlave {
			return nil, fmt.Errorf("topology: CLUSTER NODES line has no role: %q", line)
		}

		host, port, err := parseNodesAddr(rawAddr)
		if err != nil {
			return nil, err
		}
		if host == "" {
			host = originHost
		}
		addr := net.JoinHostPort(host, strconv.Itoa(port))

		if isMaster {
			if existing, ok := ns.Nodes[addr]; ok && existing.Role == RolePrimary {
				return nil, fmt.Errorf("topology: duplicate primary address %s", addr)
			}
		}

		n := ns.getOrCreate(addr, host, port)
		n.ID = id

		if isMaster {
			n.Role = RolePrimary
			ranges, err := parseSlotTokens(fields[8:])
			if err != nil {
				return nil, fmt.Errorf("topology: %s: %w", addr, err)
			}
			if len(ranges) > 0 {
				sawAnySlots = true
			}
			n.Slots = append(n.Slots, ranges...)
		} else if trackReplicas {
			n.Role = RoleReplica
			replicasByPrimary[primaryID] = append(replicasByPrimary[primaryID], n)
		}
	}

	if !sawAnySlots {
		return nil, fmt.Errorf("topology: CLUSTER NODES reply has no primary with slots")
	}

	if trackReplicas {
		for _, n := range ns.Nodes {
			if n.Role != RolePrimary || n.ID == "" {
				continue
			}
			n.Replicas = append(n.Replicas, replicasByPrimary[n.ID]...)
		}
	}
	return ns, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if f == want {
			return true
		}
	}
	return false
}

// parseNodesAddr splits the CLUSTER NODES address field
// "ip:port[@cport][,hostname]" into host and port, tolerating IPv6 by
// splitting on the last ':'.
func parseNodesAddr(raw string) (string, int, error) {
	if idx := strings.IndexByte(raw, ','); idx != -1 {
		raw = raw[:idx]
	}
	if idx := strings.IndexByte(raw, '@'); idx != -1 {
		raw = raw[:idx]
	}
	idx := strings.LastIndexByte(raw, ':')
	if idx == -1 {
		return "", 0, fmt.Errorf("topology: address missing port: %q", raw)
	}
	host := raw[:idx]
	portStr := raw[idx+1:]
	if portStr == "" {
		return host, 0, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("topology: bad port in address %q: %w", raw, err)
	}
	if port != 0 && (port < 1 || port > 65535) {
		return "", 0, fmt.Errorf("topology: port %d out of range in address %q", port, raw)
	}
	return host, port, nil
}

// parseSlotTokens parses the trailing slot-range tokens of a CLUSTER NODES
// primary line, stopping at the first migrating/importing "[...]" marker.
func parseSlotTokens(tokens []string) ([]SlotRange, error) {
	var ranges []SlotRange
	for _, tok := range tokens {
		if strings.HasPrefix(tok, "[") {
			break
		}
		parts := strings.SplitN(tok, "-", 2)
		start, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("bad slot token %q: %w", tok, err)
		}
		end := start
		if len(parts) == 2 {
			end, err = strconv.Atoi(parts[1])
			if err != nil {
				return nil, fmt.Errorf("bad slot token %q: %w", tok, err)
			}
		}
		if start < 0 || end >= SlotCount || start > end {
			return nil, fmt.Errorf("slot token %q out of range", tok)
		}
		ranges = append(ranges, SlotRange{Start: start, End: end})
	}
	return ranges, nil
}

func asInt(r *respconn.Reply) (int, error) {
	if r == nil {
		return 0, fmt.Errorf("nil reply")
	}
	switch r.Type {
	case respconn.TypeInt:
		return int(r.Int), nil
	case respconn.TypeBulk, respconn.TypeString:
		return strconv.Atoi(r.Str)
	default:
		return 0, fmt.Errorf("reply is not numeric")
	}
}

func asString(r *respconn.Reply) (string, error) {
	if r == nil || r.Type == respconn.TypeNullBulk {
		return "", nil
	}
	switch r.Type {
	case respconn.TypeBulk, respconn.TypeString:
		return r.Str, nil
	default:
		return "", fmt.Errorf("reply is not a string")
	}
}

func splitHostPort(addr string) (string, string) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, ""
	}
	return host, port
}
