package stowfs

import (
	"errors"
	"fmt"

	"github.com/graymeta/stow"

	//Load drivers
	"github.com/graymeta/stow/azure"  //Azure storage
	"github.com/graymeta/stow/b2"     //Backblaze storage
	"github.com/graymeta/stow/google" //Google storage
	"github.com/graymeta/stow/local"  //local storage
	"github.com/graymeta/stow/oracle" //oracle storage
	"github.com/graymeta/stow/s3"     //s3 storage
	"github.com/graymeta/stow/sftp"   //sftp storage
	"github.com/graymeta/stow/swift"  //swift storage
)

//The list of all the known ObjectStore (stow.Location) kinds without having
// to import the driver package for each.
const (
	KindAzure               = azure.Kind
	KindBackBlazeB2         = b2.Kind
	KindGoogleCloudStorage  = google.Kind
	KindLocal               = local.Kind
	KindS3                  = s3.Kind
	KindOracleObjectStorage = oracle.Kind
	KindSFTP                = sftp.Kind
	KindSwift               = swift.Kind
)

//Dial connects to a stow location. See stow.Dial for more info
func Dial(kind string, config stow.Config) (stow.Location, error) {
	if err := stow.Validate(kind, config); err != nil {
		return nil, fmt.Errorf("Invalid %s location configuration: %w", kind, err)
	}
	return stow.Dial(kind, config)
}

//OpenContainer returns the named container in location, creating it if it
// does not exist yet
func OpenContainer(location stow.Location, name string) (stow.Container, error) {
	container, err := location.Container(name)
	if err == nil {
		return container, nil
	}
	if !errors.Is(err, stow.ErrNotFound) {
		return nil, fmt.Errorf("Could not open container %q: %w", name, err)
	}
	if container, err = location.CreateContainer(name); err != nil {
		return nil, fmt.Errorf("Could not create container %q: %w", name, err)
	}
	return container, nil
}

func describeContainer(container stow.Container) string {
	return fmt.Sprintf("container %q (%q)", container.ID(), container.Name())
}

func describeItem(item stow.Item) string {
	return fmt.Sprintf("object %q (%q at %q)", item.ID(), item.Name(), item.URL())
}
