package models

import (
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/cpltrack/fieldsync/internal/errors"
)

// Action is a typed write action that can be queued. Its JSON encoding is the
// request body posted to Endpoint.
type Action interface {
	// Label is the human-readable action category stored as QueuedAction.Type.
	Label() string
	Endpoint() string
	Validate() error
}

// Action kinds accepted by DecodeAction.
const (
	KindReception = "reception"
	KindCommande  = "commande"
	KindPose      = "pose"
	KindDepose    = "depose"
	KindTest      = "test"
)

// Reception records a carton received at the warehouse.
type Reception struct {
	NumCarton string `json:"num_carton"`
}

func (Reception) Label() string    { return "Reception" }
func (Reception) Endpoint() string { return "/actions/reception/" }

func (r Reception) Validate() error {
	return required("num_carton", r.NumCarton)
}

// Commande orders cartons for an operator.
type Commande struct {
	Operateur string `json:"operateur"`
	NbCartons int    `json:"nb_cartons"`
}

func (Commande) Label() string    { return "Commande" }
func (Commande) Endpoint() string { return "/actions/commande/" }

func (c Commande) Validate() error {
	if err := required("operateur", c.Operateur); err != nil {
		return err
	}
	if c.NbCartons <= 0 {
		return invalid("nb_cartons must be positive")
	}
	return nil
}

// Pose installs a concentrator on a substation.
type Pose struct {
	NSerie  string `json:"n_serie"`
	PosteID string `json:"poste_id"`
}

func (Pose) Label() string    { return "Pose" }
func (Pose) Endpoint() string { return "/actions/pose/" }

func (p Pose) Validate() error {
	return fieldPair(p.NSerie, p.PosteID)
}

// Depose removes a concentrator from a substation.
type Depose struct {
	NSerie  string `json:"n_serie"`
	PosteID string `json:"poste_id"`
}

func (Depose) Label() string    { return "Dépose" }
func (Depose) Endpoint() string { return "/actions/depose/" }

func (d Depose) Validate() error {
	return fieldPair(d.NSerie, d.PosteID)
}

// TestLabo records a lab test verdict for a concentrator.
type TestLabo struct {
	NSerie     string `json:"n_serie"`
	ResultatOK bool   `json:"resultat_ok"`
}

func (TestLabo) Label() string    { return "Test Laboratoire" }
func (TestLabo) Endpoint() string { return "/actions/test/" }

func (t TestLabo) Validate() error {
	return required("n_serie", t.NSerie)
}

// DecodeAction builds the typed action of the given kind from a JSON body.
func DecodeAction(kind string, raw json.RawMessage) (Action, error) {
	var action Action
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindReception:
		action = &Reception{}
	case KindCommande:
		action = &Commande{}
	case KindPose:
		action = &Pose{}
	case KindDepose:
		action = &Depose{}
	case KindTest:
		action = &TestLabo{}
	default:
		return nil, apperrors.New(apperrors.ErrInvalid, fmt.Sprintf("unknown action kind %q", kind))
	}

	if err := json.Unmarshal(raw, action); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "malformed action payload", err)
	}
	if err := action.Validate(); err != nil {
		return nil, err
	}
	return action, nil
}

func fieldPair(nSerie, posteID string) error {
	if err := required("n_serie", nSerie); err != nil {
		return err
	}
	return required("poste_id", posteID)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid(field + " is required")
	}
	return nil
}

func invalid(msg string) error {
	return apperrors.New(apperrors.ErrValidation, msg)
}
