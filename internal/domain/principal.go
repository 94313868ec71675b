package domain

// Principal is the authenticated agent calling the API.
type Principal struct {
	ID    string
	Name  string
	Email string
	Team  *string
}

// Author returns the principal as a message author.
func (p *Principal) Author() Author {
	return Author{ID: p.ID, Name: p.Name, Email: p.Email, Type: AuthorTypeAgent}
}

// Actor returns the principal as an event actor.
func (p *Principal) Actor() Actor {
	return Actor{ID: p.ID, Name: p.Name, Type: AuthorTypeAgent}
}
