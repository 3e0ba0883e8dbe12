package model

// Response is the outcome of one hub command. It is either Success or Failure.
type Response interface {
	isResponse()
}

// Success carries the hub's reply payload.
type Success struct {
	Data Document
}

// Failure carries the reason a command did not succeed.
type Failure struct {
	Err error
}

func (Success) isResponse() {}
func (Failure) isResponse() {}

// Completion receives the single Response for a command.
type Completion func(Response)

// Result unpacks a Response into the usual (value, error) pair.
func Result(r Response) (Document, error) {
	switch v := r.(type) {
	case Success:
		return v.Data, nil
	case Failure:
		return nil, v.Err
	}
	return nil, nil
}
