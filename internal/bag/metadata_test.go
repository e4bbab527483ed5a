package bag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/bagsplit/internal/topics"
)

const sampleMetadata = `rosbag2_bagfile_information:
  version: 5
  storage_identifier: sqlite3
  duration:
    nanoseconds: 12000000000
  message_count: 310
  topics_with_message_count:
    - topic_metadata:
        name: /camera/front/image_raw
        type: sensor_msgs/msg/Image
        serialization_format: cdr
        offered_qos_profiles: ""
      message_count: 120
    - topic_metadata:
        name: /lidar/points
        type: sensor_msgs/msg/PointCloud2
        serialization_format: cdr
        offered_qos_profiles: ""
      message_count: 120
    - topic_metadata:
        name: /gps/fix
        type: sensor_msgs/msg/NavSatFix
        serialization_format: cdr
        offered_qos_profiles: ""
      message_count: 70
    - topic_metadata:
        name: /gps/fix
        type: sensor_msgs/msg/NavSatFix
        serialization_format: cdr
        offered_qos_profiles: ""
      message_count: 70
`

func writeBag(t *testing.T, content string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "drive_01")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(content), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "drive_01_0.db3"), []byte("db"), 0644))
	return dir
}

func TestYAMLReader_ReadMetadata(t *testing.T) {
	dir := writeBag(t, sampleMetadata)

	md, err := YAMLReader{}.ReadMetadata(dir)
	require.NoError(t, err)

	assert.Equal(t, dir, md.Path)
	assert.Equal(t, "sqlite3", md.StorageIdentifier)
	assert.Equal(t, uint64(310), md.MessageCount)
	require.Len(t, md.Topics, 3, "duplicate topic names collapse to one stream")
	assert.Equal(t, Topic{Name: "/camera/front/image_raw", Type: "sensor_msgs/msg/Image", MessageCount: 120}, md.Topics[0])

	assert.Equal(t, []topics.Stream{
		{Name: "/camera/front/image_raw", Type: "sensor_msgs/msg/Image"},
		{Name: "/lidar/points", Type: "sensor_msgs/msg/PointCloud2"},
		{Name: "/gps/fix", Type: "sensor_msgs/msg/NavSatFix"},
	}, md.Streams())
}

func TestYAMLReader_StorageFilePath(t *testing.T) {
	dir := writeBag(t, sampleMetadata)

	md, err := YAMLReader{}.ReadMetadata(filepath.Join(dir, "drive_01_0.db3"))
	require.NoError(t, err)
	assert.Equal(t, dir, md.Path)
}

func TestYAMLReader_Errors(t *testing.T) {
	t.Run("missing bag", func(t *testing.T) {
		_, err := YAMLReader{}.ReadMetadata(filepath.Join(t.TempDir(), "nope"))
		assert.Error(t, err)
	})

	t.Run("missing metadata", func(t *testing.T) {
		_, err := YAMLReader{}.ReadMetadata(t.TempDir())
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := writeBag(t, "rosbag2_bagfile_information: [unterminated")
		_, err := YAMLReader{}.ReadMetadata(dir)
		assert.Error(t, err)
	})

	t.Run("unnamed topic", func(t *testing.T) {
		dir := writeBag(t, `rosbag2_bagfile_information:
  topics_with_message_count:
    - topic_metadata:
        type: std_msgs/msg/String
`)
		_, err := YAMLReader{}.ReadMetadata(dir)
		assert.Error(t, err)
	})
}
