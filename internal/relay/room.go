package relay

import "time"

// Room is a set of participants that should all connect to each other.
type Room struct {
	ID string

	// Members are kept in join order; the roster snapshot reflects it.
	Members []*Client

	CreatedAt time.Time
}

func NewRoom(id string) *Room {
	return &Room{ID: id, CreatedAt: time.Now()}
}

func (r *Room) Add(c *Client) {
	r.Members = append(r.Members, c)
}

// Remove drops c and reports whether it was a member.
func (r *Room) Remove(c *Client) bool {
	for i, m := range r.Members {
		if m == c {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

// Member finds a participant of this room by session id.
func (r *Room) Member(id string) *Client {
	for _, m := range r.Members {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (r *Room) IDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

func (r *Room) Len() int {
	return len(r.Members)
}

// RoomSummary is the public view of a room.
type RoomSummary struct {
	ID        string    `json:"id"`
	Members   int       `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}
