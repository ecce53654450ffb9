package model

// Guitar is one entry of the fixed guitar catalog. Descriptor feeds the
// generation prompt and stays out of the public key namespace.
type Guitar struct {
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
}

// Catalog lists the guitar models a user may pick from.
var Catalog = []Guitar{
	{Name: "Les Paul", Descriptor: "a sunburst Gibson Les Paul with gold hardware"},
	{Name: "Stratocaster", Descriptor: "an olympic white Fender Stratocaster"},
	{Name: "Telecaster", Descriptor: "a butterscotch blonde Fender Telecaster"},
	{Name: "SG", Descriptor: "a cherry red Gibson SG with twin horns"},
	{Name: "Flying V", Descriptor: "a black Gibson Flying V"},
	{Name: "Explorer", Descriptor: "a snow white Gibson Explorer"},
	{Name: "Jazzmaster", Descriptor: "a sonic blue Fender Jazzmaster"},
	{Name: "Mustang", Descriptor: "a competition orange Fender Mustang"},
}

// GuitarByName looks up a catalog entry by its exact name.
func GuitarByName(name string) (Guitar, bool) {
	for _, g := range Catalog {
		if g.Name == name {
			return g, true
		}
	}
	return Guitar{}, false
}
