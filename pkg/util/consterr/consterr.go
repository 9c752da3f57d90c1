package consterr

//ConstErr is used to be able to declare constants that are errors that are strings
type ConstErr string

//Error returns the value of the underlying string
func (errstr ConstErr) Error() string { return string(errstr) }

var _ error = ConstErr("") //compile time type check
