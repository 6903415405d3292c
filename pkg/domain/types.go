package domain

import "time"

// Built-in shelf keys a book can be assigned to.
const (
	ShelfWantToRead       = "wantToRead"
	ShelfCurrentlyReading = "currentlyReading"
	ShelfRead             = "read"
)

type Book struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Author        string    `json:"author,omitempty"`
	Description   string    `json:"description,omitempty"`
	ISBN          string    `json:"isbn,omitempty"`
	CoverURL      string    `json:"coverUrl,omitempty"`
	PublishedYear int       `json:"publishedYear,omitempty"`
	Shelf         string    `json:"shelf,omitempty"`
	OwnerID       string    `json:"ownerId,omitempty"`
	AverageRating float64   `json:"averageRating,omitempty"`
	Reviews       []Review  `json:"reviews,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type Review struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	UserID    string    `json:"userId,omitempty"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type Shelf struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Books     []string  `json:"books,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Bio       string    `json:"bio,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Settings struct {
	Theme              string `json:"theme,omitempty"`
	Language           string `json:"language,omitempty"`
	EmailNotifications bool   `json:"emailNotifications"`
	DefaultShelf       string `json:"defaultShelf,omitempty"`
	BooksPerPage       int    `json:"booksPerPage,omitempty"`
}

// Session is derived from the access credential and never persisted on its own.
type Session struct {
	SubjectID   string    `json:"subjectId"`
	DisplayName string    `json:"displayName,omitempty"`
	Email       string    `json:"email,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`
}
