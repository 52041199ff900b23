package vault

import "fmt"

// Partition is a top-level directory of the vault. An item's lifecycle
// state is the partition that currently holds its file.
type Partition string

const (
	Inbox           Partition = "Inbox"
	NeedsAction     Partition = "Needs_Action"
	PendingApproval Partition = "Pending_Approval"
	Approved        Partition = "Approved"
	Rejected        Partition = "Rejected"
	Done            Partition = "Done"
)

// LogsDir holds the daily log files. It is not an item partition.
const LogsDir = "Logs"

// States are the partitions that represent item lifecycle states, in
// lifecycle order.
var States = []Partition{NeedsAction, PendingApproval, Approved, Rejected, Done}

// All is every partition the vault manages, including the raw Inbox.
var All = append([]Partition{Inbox}, States...)

func ParsePartition(s string) (Partition, error) {
	for _, p := range All {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown partition %q", s)
}

// Ref names one file in one partition. A Ref goes stale as soon as the file
// is moved; Move returns the new Ref.
type Ref struct {
	Partition Partition
	Name      string
}

func (r Ref) String() string {
	return string(r.Partition) + "/" + r.Name
}
