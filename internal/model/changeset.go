package model

// Changeset lists the documents written by one store transition, in their
// post-commit state. Callers use it to notify observers without re-reading.
type Changeset struct {
	Spots        []ParkingSpot
	Reservations []Reservation
	Sessions     []ParkingSession
	DeletedSpots []string
}

// Merge appends other's documents to c.
func (c *Changeset) Merge(other Changeset) {
	c.Spots = append(c.Spots, other.Spots...)
	c.Reservations = append(c.Reservations, other.Reservations...)
	c.Sessions = append(c.Sessions, other.Sessions...)
	c.DeletedSpots = append(c.DeletedSpots, other.DeletedSpots...)
}

// Empty reports whether nothing was written.
func (c Changeset) Empty() bool {
	return len(c.Spots) == 0 && len(c.Reservations) == 0 && len(c.Sessions) == 0 && len(c.DeletedSpots) == 0
}
