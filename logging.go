package songbird

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NewLogger builds the root *logrus.Entry a Driver instance logs through,
// scoped with a "driver" field so a process hosting more than one Driver
// can tell their log lines apart (spec.md §3's DriverID).
func NewLogger(driverID uuid.UUID) *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger()).WithField("driver", driverID.String())
}
