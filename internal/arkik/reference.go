package arkik

import (
	"strings"

	"github.com/shopspring/decimal"
)

// PriceSource says where a unit price was found
type PriceSource string

const (
	PriceClientSite PriceSource = "client_site"
	PriceClient     PriceSource = "client"
	PricePlant      PriceSource = "plant"
	PriceNone       PriceSource = "none"
)

// Recipe is a master concrete-mix definition
type Recipe struct {
	ID          string
	Code        string
	ArkikCode   string // long product description used by Arkik
	Description string
}

// Client is a customer account
type Client struct {
	ID   string
	Code string
	Name string
}

// Site is a construction site belonging to a client
type Site struct {
	ID       string
	ClientID string
	Name     string
}

// Material is a raw material the plant tracks
type Material struct {
	ID   string
	Code string
	Name string
}

// Price is a unit price for a recipe, optionally scoped to a client and site
type Price struct {
	RecipeID      string
	ClientID      string
	SiteID        string
	Amount        decimal.Decimal
	QuoteID       string
	QuoteDetailID string
}

// Source classifies the price by how narrowly it is scoped
func (p Price) Source() PriceSource {
	switch {
	case p.ClientID != "" && p.SiteID != "":
		return PriceClientSite
	case p.ClientID != "":
		return PriceClient
	}
	return PricePlant
}

// ReferenceData is the read-only reference lookup the validator needs
type ReferenceData interface {
	RecipeByCode(code string) (Recipe, bool)
	ClientByCode(code string) (Client, bool)
	ClientByName(name string) (Client, bool)
	SiteByName(clientID, name string) (Site, bool)
	MaterialByCode(code string) (Material, bool)
	PriceFor(recipeID, clientID, siteID string) (Price, bool)
}

// clientMatchThreshold is the minimum word similarity for a fuzzy client or site match
const clientMatchThreshold = 0.8

// ReferenceSet is an in-memory ReferenceData built once per import session
type ReferenceSet struct {
	recipes      map[string]Recipe
	clients      []Client
	clientByCode map[string]Client
	clientByName map[string]Client
	sites        map[string][]Site
	materials    map[string]Material
	prices       map[string][]Price
}

// NewReferenceSet indexes the given reference data
func NewReferenceSet(recipes []Recipe, clients []Client, sites []Site, materials []Material, prices []Price) *ReferenceSet {
	rs := &ReferenceSet{
		recipes:      make(map[string]Recipe, len(recipes)*2),
		clients:      clients,
		clientByCode: make(map[string]Client, len(clients)),
		clientByName: make(map[string]Client, len(clients)),
		sites:        make(map[string][]Site),
		materials:    make(map[string]Material, len(materials)),
		prices:       make(map[string][]Price),
	}
	for _, r := range recipes {
		if r.Code != "" {
			rs.recipes[codeKey(r.Code)] = r
		}
		if r.ArkikCode != "" {
			rs.recipes[codeKey(r.ArkikCode)] = r
		}
	}
	for _, c := range clients {
		if c.Code != "" {
			rs.clientByCode[codeKey(c.Code)] = c
		}
		rs.clientByName[NormalizeName(c.Name)] = c
	}
	for _, s := range sites {
		rs.sites[s.ClientID] = append(rs.sites[s.ClientID], s)
	}
	for _, m := range materials {
		rs.materials[codeKey(m.Code)] = m
	}
	for _, p := range prices {
		rs.prices[p.RecipeID] = append(rs.prices[p.RecipeID], p)
	}
	return rs
}

func codeKey(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// RecipeByCode finds a recipe by its code or its Arkik long code
func (rs *ReferenceSet) RecipeByCode(code string) (Recipe, bool) {
	r, ok := rs.recipes[codeKey(code)]
	return r, ok
}

// ClientByCode finds a client by its account code
func (rs *ReferenceSet) ClientByCode(code string) (Client, bool) {
	c, ok := rs.clientByCode[codeKey(code)]
	return c, ok
}

// ClientByName finds a client by exact normalized name, then by best word similarity
func (rs *ReferenceSet) ClientByName(name string) (Client, bool) {
	if c, ok := rs.clientByName[NormalizeName(name)]; ok {
		return c, true
	}
	var best Client
	bestScore := 0.0
	for _, c := range rs.clients {
		if score := NameSimilarity(name, c.Name); score > bestScore {
			best, bestScore = c, score
		}
	}
	return best, bestScore >= clientMatchThreshold
}

// SiteByName finds a site of the client by normalized name, then by similarity
func (rs *ReferenceSet) SiteByName(clientID, name string) (Site, bool) {
	norm := NormalizeName(name)
	var best Site
	bestScore := 0.0
	for _, s := range rs.sites[clientID] {
		if NormalizeName(s.Name) == norm {
			return s, true
		}
		if score := NameSimilarity(name, s.Name); score > bestScore {
			best, bestScore = s, score
		}
	}
	return best, bestScore >= clientMatchThreshold
}

// MaterialByCode finds a material by its Arkik code
func (rs *ReferenceSet) MaterialByCode(code string) (Material, bool) {
	m, ok := rs.materials[codeKey(code)]
	return m, ok
}

// PriceFor picks the most specific price: client and site, then client, then plant-wide
func (rs *ReferenceSet) PriceFor(recipeID, clientID, siteID string) (Price, bool) {
	var client, plant *Price
	for i := range rs.prices[recipeID] {
		p := &rs.prices[recipeID][i]
		switch {
		case p.ClientID != "" && p.ClientID == clientID && p.SiteID != "" && p.SiteID == siteID:
			return *p, true
		case p.ClientID != "" && p.ClientID == clientID && p.SiteID == "":
			if client == nil {
				client = p
			}
		case p.ClientID == "" && p.SiteID == "":
			if plant == nil {
				plant = p
			}
		}
	}
	if client != nil {
		return *client, true
	}
	if plant != nil {
		return *plant, true
	}
	return Price{}, false
}
